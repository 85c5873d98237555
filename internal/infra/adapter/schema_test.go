package adapter

import (
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsFromSchema(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "search text"},
			"limit": {"type": "integer"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"filter": {
				"type": "object",
				"properties": {"archived": {"type": "boolean"}},
				"required": ["archived"]
			},
			"mode": {"type": "string", "enum": ["fast", "thorough"]}
		},
		"required": ["query"]
	}`)

	params := ParamsFromSchema(raw)
	require.Len(t, params, 5)

	query := params["query"]
	require.NotNil(t, query)
	assert.Equal(t, schema.String, query.Type)
	assert.Equal(t, "search text", query.Desc)
	assert.True(t, query.Required)

	limit := params["limit"]
	require.NotNil(t, limit)
	assert.Equal(t, schema.Integer, limit.Type)
	assert.False(t, limit.Required)

	tags := params["tags"]
	require.NotNil(t, tags)
	assert.Equal(t, schema.Array, tags.Type)
	require.NotNil(t, tags.ElemInfo)
	assert.Equal(t, schema.String, tags.ElemInfo.Type)

	filter := params["filter"]
	require.NotNil(t, filter)
	assert.Equal(t, schema.Object, filter.Type)
	require.Contains(t, filter.SubParams, "archived")
	assert.True(t, filter.SubParams["archived"].Required)

	mode := params["mode"]
	require.NotNil(t, mode)
	assert.Equal(t, []string{"fast", "thorough"}, mode.Enum)
}

func TestParamsFromSchemaDegradesGracefully(t *testing.T) {
	tests := []struct {
		name string
		raw  json.RawMessage
	}{
		{"empty input", nil},
		{"invalid json", json.RawMessage(`{not json`)},
		{"no properties", json.RawMessage(`{"type":"object"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := ParamsFromSchema(tt.raw)
			require.NotNil(t, params)
			assert.Empty(t, params)
		})
	}
}

func TestParamsFromSchemaUnknownKind(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","properties":{"blob":{"type":"binary"}}}`)
	params := ParamsFromSchema(raw)
	require.Contains(t, params, "blob")
	assert.Equal(t, schema.Object, params["blob"].Type)
}

func TestActionFirstReorder(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{
			name:     "action moves to front",
			in:       `{"processId":"p-1","action":"stop","force":true}`,
			expected: `{"action":"stop","force":true,"processId":"p-1"}`,
		},
		{
			name:     "no action key passes through",
			in:       `{"processId":"p-1"}`,
			expected: `{"processId":"p-1"}`,
		},
		{
			name:     "nested values survive verbatim",
			in:       `{"action":"update","spec":{"b":2,"a":1}}`,
			expected: `{"action":"update","spec":{"b":2,"a":1}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := actionFirst(json.RawMessage(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestActionFirstRejectsNonObject(t *testing.T) {
	_, err := actionFirst(json.RawMessage(`[1,2]`))
	require.Error(t, err)
}

// Reordering changes key order only; the payload must still satisfy the
// tool's declared input schema.
func TestActionFirstPreservesSchemaValidity(t *testing.T) {
	const schemaJSON = `{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["start", "stop", "restart"]},
			"processId": {"type": "string"},
			"force": {"type": "boolean"}
		},
		"required": ["action", "processId"],
		"additionalProperties": false
	}`

	var toolSchema jsonschema.Schema
	require.NoError(t, json.Unmarshal([]byte(schemaJSON), &toolSchema))
	resolved, err := toolSchema.Resolve(nil)
	require.NoError(t, err)

	out, err := actionFirst(json.RawMessage(`{"processId":"p-1","action":"restart","force":false}`))
	require.NoError(t, err)

	var decoded any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.NoError(t, resolved.Validate(decoded))

	var before, after map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"processId":"p-1","action":"restart","force":false}`), &before))
	require.NoError(t, json.Unmarshal(out, &after))
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("reorder changed payload contents (-want +got):\n%s", diff)
	}
}

func TestTransformFor(t *testing.T) {
	for _, name := range []string{"manage_process", "manage_schedules", "change_listener_status"} {
		_, ok := TransformFor(name)
		assert.True(t, ok, name)
	}
	_, ok := TransformFor("search_notes")
	assert.False(t, ok)
}
