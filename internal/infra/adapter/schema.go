package adapter

import (
	"encoding/json"

	"github.com/cloudwego/eino/schema"
)

// jsonSchema is the subset of JSON Schema the gateway understands. Backends
// declare richer documents; everything outside this shape degrades to a
// permissive field.
type jsonSchema struct {
	Type        string                `json:"type"`
	Description string                `json:"description,omitempty"`
	Properties  map[string]jsonSchema `json:"properties,omitempty"`
	Items       *jsonSchema           `json:"items,omitempty"`
	Required    []string              `json:"required,omitempty"`
	Enum        []any                 `json:"enum,omitempty"`
}

// ParamsFromSchema maps a backend tool's declared input schema onto the
// model-facing parameter set. Recognized primitive kinds are string, number,
// integer, boolean, array, and object; an unknown or missing kind yields a
// permissive object field so discovery stays tolerant of incomplete
// declarations. Pure; safe to test without any network.
func ParamsFromSchema(raw json.RawMessage) map[string]*schema.ParameterInfo {
	if len(raw) == 0 {
		return map[string]*schema.ParameterInfo{}
	}
	var decl jsonSchema
	if err := json.Unmarshal(raw, &decl); err != nil {
		return map[string]*schema.ParameterInfo{}
	}

	required := make(map[string]struct{}, len(decl.Required))
	for _, name := range decl.Required {
		required[name] = struct{}{}
	}

	params := make(map[string]*schema.ParameterInfo, len(decl.Properties))
	for name, prop := range decl.Properties {
		info := parameterInfo(prop)
		_, info.Required = required[name]
		params[name] = info
	}
	return params
}

func parameterInfo(decl jsonSchema) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Desc: decl.Description,
		Type: dataType(decl.Type),
	}
	for _, v := range decl.Enum {
		if s, ok := v.(string); ok {
			info.Enum = append(info.Enum, s)
		}
	}

	switch info.Type {
	case schema.Array:
		if decl.Items != nil {
			info.ElemInfo = parameterInfo(*decl.Items)
		} else {
			info.ElemInfo = &schema.ParameterInfo{Type: schema.String}
		}
	case schema.Object:
		if len(decl.Properties) > 0 {
			sub := make(map[string]*schema.ParameterInfo, len(decl.Properties))
			subRequired := make(map[string]struct{}, len(decl.Required))
			for _, name := range decl.Required {
				subRequired[name] = struct{}{}
			}
			for name, prop := range decl.Properties {
				child := parameterInfo(prop)
				_, child.Required = subRequired[name]
				sub[name] = child
			}
			info.SubParams = sub
		}
	}
	return info
}

func dataType(kind string) schema.DataType {
	switch kind {
	case "string":
		return schema.String
	case "number":
		return schema.Number
	case "integer":
		return schema.Integer
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		// Unknown kind: accept anything rather than reject the tool.
		return schema.Object
	}
}
