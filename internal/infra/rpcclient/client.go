// Package rpcclient speaks the three-call JSON-RPC protocol (initialize,
// tools/list, tools/call) to a single backend tool server over HTTP POST.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// maxResponseSize caps a backend response body (4MB).
const maxResponseSize = 4 << 20

// Observer receives protocol-level outcomes for metrics. All methods must
// be cheap and non-blocking.
type Observer interface {
	ObserveListTools(endpoint string, d time.Duration, err error)
	ObserveCallTool(tool string, d time.Duration, isErr bool)
}

// NopObserver discards every observation.
type NopObserver struct{}

func (NopObserver) ObserveListTools(string, time.Duration, error) {}
func (NopObserver) ObserveCallTool(string, time.Duration, bool)   {}

type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	observer   Observer
	seq        atomic.Int64
}

type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	Observer   Observer
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger.Named("rpc_client"),
		observer:   observer,
	}
}

// Initialize performs the capability handshake. A false return means the
// handshake failed; discovery proceeds regardless, so no error is surfaced.
// The call shares the caller's context (and therefore the discovery
// deadline) with the tools/list that follows.
func (c *Client) Initialize(ctx context.Context, endpoint string) bool {
	params := &mcp.InitializeParams{
		ProtocolVersion: domain.ProtocolVersion,
		Capabilities:    &mcp.ClientCapabilities{},
		ClientInfo: &mcp.Implementation{
			Name:    domain.ClientName,
			Version: domain.ClientVersion,
		},
	}
	raw, err := c.post(ctx, endpoint, "initialize", params)
	if err != nil {
		c.logger.Warn("initialize failed", zap.String("endpoint", endpoint), zap.Error(err))
		return false
	}
	if _, err := decodeResponse(raw); err != nil {
		c.logger.Warn("initialize response invalid", zap.String("endpoint", endpoint), zap.Error(err))
		return false
	}
	return true
}

// ListTools fetches the server's current tool list under the discovery
// deadline. Failures are logged and returned for the aggregator to count;
// the tool slice is nil in that case.
func (c *Client) ListTools(ctx context.Context, endpoint string) ([]domain.ToolDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, domain.DiscoveryTimeout)
	defer cancel()

	started := time.Now()
	tools, err := c.listTools(ctx, endpoint)
	c.observer.ObserveListTools(endpoint, time.Since(started), err)
	if err != nil {
		c.logger.Warn("tools/list failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, err
	}
	return tools, nil
}

func (c *Client) listTools(ctx context.Context, endpoint string) ([]domain.ToolDescriptor, error) {
	raw, err := c.post(ctx, endpoint, "tools/list", &mcp.ListToolsParams{})
	if err != nil {
		return nil, err
	}
	resp, err := decodeResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list error: %w", resp.Error)
	}
	if len(resp.Result) == 0 {
		return nil, errors.New("tools/list response missing result")
	}

	var result mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}

	tools := make([]domain.ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		if tool == nil || tool.Name == "" {
			continue
		}
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			c.logger.Warn("tool schema not serializable, skipping",
				zap.String("endpoint", endpoint), zap.String("tool", tool.Name), zap.Error(err))
			continue
		}
		tools = append(tools, domain.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool invokes one tool under the invocation deadline. The returned
// value is always a ToolResult; transport failures, protocol errors, and
// timeouts all travel inside it.
func (c *Client) CallTool(ctx context.Context, endpoint, name string, args json.RawMessage) domain.ToolResult {
	ctx, cancel := context.WithTimeout(ctx, domain.InvocationTimeout)
	defer cancel()

	started := time.Now()
	result := c.callTool(ctx, endpoint, name, args)
	c.observer.ObserveCallTool(name, time.Since(started), result.IsErr())
	return result
}

func (c *Client) callTool(ctx context.Context, endpoint, name string, args json.RawMessage) domain.ToolResult {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	params := &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	}
	raw, err := c.post(ctx, endpoint, "tools/call", params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("tools/call deadline exceeded",
				zap.String("endpoint", endpoint), zap.String("tool", name))
			return domain.Err(domain.TimeoutErrMessage)
		}
		c.logger.Warn("tools/call transport failure",
			zap.String("endpoint", endpoint), zap.String("tool", name), zap.Error(err))
		return domain.Err(fmt.Sprintf("failed to execute %s: %v", name, err))
	}

	resp, err := decodeResponse(raw)
	if err != nil {
		c.logger.Warn("tools/call response invalid",
			zap.String("endpoint", endpoint), zap.String("tool", name), zap.Error(err))
		return domain.Err(fmt.Sprintf("failed to execute %s: %v", name, err))
	}
	if resp.Error != nil {
		return domain.Err(wireErrorMessage(resp.Error))
	}
	if len(resp.Result) == 0 {
		return domain.Ok(map[string]any{"success": true})
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return domain.Err(fmt.Sprintf("failed to execute %s: decode result: %v", name, err))
	}
	return payloadFromResult(&result)
}

// payloadFromResult extracts the first text block and opportunistically
// parses it as JSON; unparsable text is returned verbatim, never treated
// as a failure.
func payloadFromResult(result *mcp.CallToolResult) domain.ToolResult {
	text := firstText(result)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return domain.Err(text)
	}
	if text == "" {
		return domain.Ok(map[string]any{"success": true})
	}
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return domain.Ok(parsed)
	}
	return domain.Ok(text)
}

func firstText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func (c *Client) post(ctx context.Context, endpoint, method string, params any) (json.RawMessage, error) {
	payload, err := c.buildRequest(method, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Unwrap url.Error so deadline checks see context.DeadlineExceeded.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.RawMessage(body), nil
}

func (c *Client) buildRequest(method string, params any) (json.RawMessage, error) {
	seq := c.seq.Add(1)
	id, err := jsonrpc.MakeID(fmt.Sprintf("toolgate-%s-%d", method, seq))
	if err != nil {
		return nil, fmt.Errorf("build request id: %w", err)
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req := &jsonrpc.Request{ID: id, Method: method, Params: rawParams}
	wire, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return json.RawMessage(wire), nil
}

// wireErrorMessage surfaces the backend's own error message, which travels
// to the model as the tool result.
func wireErrorMessage(err error) string {
	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		return wire.Message
	}
	return err.Error()
}

func decodeResponse(raw json.RawMessage) (*jsonrpc.Response, error) {
	msg, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return nil, errors.New("response is not a response message")
	}
	return resp, nil
}
