// Package adapter turns origin-tagged tool descriptors into callables the
// orchestration loop can hand to the model. Adaptation is the safety
// boundary: nothing raised during an invocation escapes past it.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// ToolCaller dispatches one tool invocation against a server endpoint.
type ToolCaller interface {
	CallTool(ctx context.Context, endpoint, name string, args json.RawMessage) domain.ToolResult
}

// AdaptedTool is one backend tool bound to its owning server's endpoint.
// It implements eino's tool.InvokableTool so the orchestrator can expose it
// to the model directly.
type AdaptedTool struct {
	origin    domain.OriginTaggedTool
	endpoint  string
	info      *schema.ToolInfo
	caller    ToolCaller
	transform ArgTransform
	logger    *zap.Logger
}

var _ tool.InvokableTool = (*AdaptedTool)(nil)

// Adapt builds an AdaptedTool from a tagged descriptor, closing it over the
// owning server's endpoint.
func Adapt(tagged domain.OriginTaggedTool, endpoint string, caller ToolCaller, logger *zap.Logger) *AdaptedTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	transform, _ := TransformFor(tagged.Name)
	return &AdaptedTool{
		origin:   tagged,
		endpoint: endpoint,
		info: &schema.ToolInfo{
			Name:        tagged.Name,
			Desc:        tagged.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(ParamsFromSchema(tagged.InputSchema)),
		},
		caller:    caller,
		transform: transform,
		logger:    logger.Named("adapted_tool"),
	}
}

// Origin returns the provenance of the underlying tool.
func (t *AdaptedTool) Origin() domain.OriginTaggedTool { return t.origin }

// Name returns the tool name as declared by the backend.
func (t *AdaptedTool) Name() string { return t.origin.Name }

// ServerID returns the owning server's id.
func (t *AdaptedTool) ServerID() string { return t.origin.ServerID }

// Info implements tool.BaseTool.
func (t *AdaptedTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return t.info, nil
}

// InvokableRun implements tool.InvokableTool. The returned string is the
// serialized ToolResult; errors travel inside it so a broken tool never
// aborts the surrounding model step.
func (t *AdaptedTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	result := t.Invoke(ctx, json.RawMessage(argumentsInJSON))
	encoded, err := json.Marshal(result)
	if err != nil {
		// ToolResult marshaling is total over its own fields; this only
		// fires for unserializable payloads smuggled in by a backend.
		return fmt.Sprintf(`{"error":"failed to execute %s: %v"}`, t.origin.Name, err), nil
	}
	return string(encoded), nil
}

// Invoke dispatches the call, applying any registered argument transform
// first. Every failure is converted to an Err result.
func (t *AdaptedTool) Invoke(ctx context.Context, args json.RawMessage) domain.ToolResult {
	dispatchArgs := args
	if t.transform != nil {
		transformed, err := t.transform(args)
		if err != nil {
			t.logger.Warn("argument transform failed",
				zap.String("tool", t.origin.Name),
				zap.String("server", t.origin.ServerID),
				zap.Error(err))
			return domain.Err(fmt.Sprintf("failed to execute %s: %v", t.origin.Name, err))
		}
		dispatchArgs = transformed
	}
	return t.caller.CallTool(ctx, t.endpoint, t.origin.Name, dispatchArgs)
}
