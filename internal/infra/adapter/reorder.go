package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ArgTransform rewrites a tool's serialized arguments before dispatch.
type ArgTransform func(json.RawMessage) (json.RawMessage, error)

// defaultTransforms maps tool names to workarounds for known backend
// defects. The listed tools misparse their arguments unless the `action`
// discriminator is the first key in the request body. Adding or removing a
// workaround is a data change here, not a call-site change.
var defaultTransforms = map[string]ArgTransform{
	"manage_process":         actionFirst,
	"manage_schedules":       actionFirst,
	"change_listener_status": actionFirst,
}

// TransformFor returns the registered transform for a tool, if any.
func TransformFor(name string) (ArgTransform, bool) {
	t, ok := defaultTransforms[name]
	return t, ok
}

// actionFirst re-serializes an argument object so the "action" key is
// emitted first and the remaining keys follow in sorted order. Arguments
// without an action key pass through untouched.
func actionFirst(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("reorder arguments: %w", err)
	}
	if _, ok := args["action"]; !ok {
		return raw, nil
	}

	keys := make([]string, 0, len(args))
	for key := range args {
		if key == "action" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	keys = append([]string{"action"}, keys...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		buf.Write(args[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
