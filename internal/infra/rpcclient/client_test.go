package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

// rpcHandler answers JSON-RPC requests by method, echoing the request id.
func rpcHandler(t *testing.T, respond func(method string, params json.RawMessage) (result any, rpcErr map[string]any)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		body := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		result, rpcErr := respond(req.Method, req.Params)
		if rpcErr != nil {
			body["error"] = rpcErr
		} else {
			body["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}
}

func listToolsResult(tools ...map[string]any) map[string]any {
	return map[string]any{"tools": tools}
}

func textResult(text string, isError bool) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": isError,
	}
}

func TestInitialize(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, func(method string, _ json.RawMessage) (any, map[string]any) {
		assert.Equal(t, "initialize", method)
		return map[string]any{
			"protocolVersion": domain.ProtocolVersion,
			"capabilities":    map[string]any{},
			"serverInfo":      map[string]any{"name": "backend", "version": "1.0"},
		}, nil
	}))
	defer server.Close()

	client := New(Options{})
	assert.True(t, client.Initialize(context.Background(), server.URL))
}

func TestInitializeFailureIsNonFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(Options{})
	assert.False(t, client.Initialize(context.Background(), server.URL))
}

func TestListTools(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, func(method string, _ json.RawMessage) (any, map[string]any) {
		require.Equal(t, "tools/list", method)
		return listToolsResult(
			map[string]any{
				"name":        "search_notes",
				"description": "Full text search over notes",
				"inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{"query": map[string]any{"type": "string"}},
				},
			},
			map[string]any{
				"name":        "create_note",
				"inputSchema": map[string]any{"type": "object"},
			},
		), nil
	}))
	defer server.Close()

	client := New(Options{})
	tools, err := client.ListTools(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "search_notes", tools[0].Name)
	assert.Equal(t, "Full text search over notes", tools[0].Description)
	assert.NotEmpty(t, tools[0].InputSchema)
	assert.Equal(t, "create_note", tools[1].Name)
}

func TestListToolsProtocolError(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, func(string, json.RawMessage) (any, map[string]any) {
		return nil, map[string]any{"code": -32000, "message": "registry offline"}
	}))
	defer server.Close()

	client := New(Options{})
	tools, err := client.ListTools(context.Background(), server.URL)
	require.Error(t, err)
	assert.Nil(t, tools)
}

func TestListToolsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := New(Options{})
	_, err := client.ListTools(context.Background(), server.URL)
	require.Error(t, err)
}

func TestCallTool(t *testing.T) {
	tests := []struct {
		name        string
		respond     func(method string, params json.RawMessage) (any, map[string]any)
		wantErr     bool
		wantMessage string
		wantPayload any
	}{
		{
			name: "json text payload is parsed",
			respond: func(string, json.RawMessage) (any, map[string]any) {
				return textResult(`{"noteId":"n-1"}`, false), nil
			},
			wantPayload: map[string]any{"noteId": "n-1"},
		},
		{
			name: "non-json text passes through verbatim",
			respond: func(string, json.RawMessage) (any, map[string]any) {
				return textResult("created note n-1", false), nil
			},
			wantPayload: "created note n-1",
		},
		{
			name: "empty result becomes success marker",
			respond: func(string, json.RawMessage) (any, map[string]any) {
				return map[string]any{"content": []map[string]any{}}, nil
			},
			wantPayload: map[string]any{"success": true},
		},
		{
			name: "tool-level error",
			respond: func(string, json.RawMessage) (any, map[string]any) {
				return textResult("note not found", true), nil
			},
			wantErr:     true,
			wantMessage: "note not found",
		},
		{
			name: "protocol error message passes through",
			respond: func(string, json.RawMessage) (any, map[string]any) {
				return nil, map[string]any{"code": -32602, "message": "invalid arguments"}
			},
			wantErr:     true,
			wantMessage: "invalid arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(rpcHandler(t, tt.respond))
			defer server.Close()

			client := New(Options{})
			result := client.CallTool(context.Background(), server.URL, "search_notes", json.RawMessage(`{"query":"x"}`))
			assert.Equal(t, tt.wantErr, result.IsErr())
			if tt.wantErr {
				assert.Equal(t, tt.wantMessage, result.ErrMessage())
				return
			}
			assert.Equal(t, tt.wantPayload, result.Payload())
		})
	}
}

func TestWireErrorMessage(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, func(string, json.RawMessage) (any, map[string]any) {
		return nil, map[string]any{"code": -32000, "message": "backend says no"}
	}))
	defer server.Close()

	client := New(Options{})
	result := client.CallTool(context.Background(), server.URL, "search_notes", nil)
	require.True(t, result.IsErr())
	assert.Equal(t, "backend says no", result.ErrMessage())

	// Errors that never came off the wire fall back to their own text.
	assert.Equal(t, "plain failure", wireErrorMessage(errors.New("plain failure")))
}

func TestCallToolTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := New(Options{})
	result := client.CallTool(ctx, server.URL, "slow_tool", nil)
	require.True(t, result.IsErr())
	assert.Equal(t, domain.TimeoutErrMessage, result.ErrMessage())
}

func TestCallToolTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := New(Options{})
	result := client.CallTool(context.Background(), server.URL, "search_notes", nil)
	require.True(t, result.IsErr())
	assert.Contains(t, result.ErrMessage(), "failed to execute search_notes")
}
