// Package orchestrator runs the conversational turn loop: it streams model
// output, executes the tool calls the model makes against backend servers,
// and feeds results back until the model produces a final answer or the
// step budget runs out.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/adapter"
)

const (
	// eventBuffer absorbs bursts between the loop and the transport writer.
	eventBuffer = 64

	titleTimeout = 10 * time.Second

	// turnTimeout bounds the whole turn loop. The loop survives the
	// client's disconnect so a resumed stream can see the turn complete,
	// so the request context cannot be the bound.
	turnTimeout = 5 * time.Minute

	// genericTurnError is the only failure text a client ever sees; real
	// causes stay in the logs.
	genericTurnError = "an error occurred"
)

const defaultSystemPrompt = `You are a helpful assistant with access to external tools. Use them when they help answer the user's request, and answer directly when they do not.`

const titleSystemPrompt = `Generate a short title (at most six words) summarizing the user's message. Return only the title, no quotes or punctuation around it.`

// ToolSource supplies the user's aggregated tools and binds them to their
// backend endpoints.
type ToolSource interface {
	Tools(ctx context.Context, userID string, explicit *domain.Credentials) (tools []domain.OriginTaggedTool, cached bool)
	Adapt(tools []domain.OriginTaggedTool) []*adapter.AdaptedTool
}

// ConversationStore persists conversations and transcripts.
type ConversationStore interface {
	Create(conv domain.Conversation) error
	Get(id string) (domain.Conversation, error)
	Messages(conversationID string) ([]domain.Message, error)
	SaveMessages(conversationID string, messages []domain.Message) error
	UpdateTitle(id, title string) error
}

// StreamSink receives a copy of the turn's events for late subscribers.
type StreamSink interface {
	Publish(event domain.StreamEvent)
	Close()
}

// TurnRequest is one incoming user message.
type TurnRequest struct {
	UserID         string
	ConversationID string
	MessageID      string
	Content        string
	Credentials    *domain.Credentials
}

type Orchestrator struct {
	model        model.ToolCallingChatModel
	tools        ToolSource
	store        ConversationStore
	openStream   func(conversationID string) StreamSink
	systemPrompt string
	maxSteps     int
	logger       *zap.Logger
}

type Options struct {
	Model model.ToolCallingChatModel
	Tools ToolSource
	Store ConversationStore

	// OpenStream registers the turn with the resumable stream broker. Nil
	// disables resumability; the primary response path is unaffected.
	OpenStream func(conversationID string) StreamSink

	SystemPrompt string
	MaxSteps     int
	Logger       *zap.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, errors.New("model is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("tool source is required")
	}
	if opts.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = domain.MaxModelSteps
	}
	return &Orchestrator{
		model:        opts.Model,
		tools:        opts.Tools,
		store:        opts.Store,
		openStream:   opts.OpenStream,
		systemPrompt: systemPrompt,
		maxSteps:     maxSteps,
		logger:       logger.Named("orchestrator"),
	}, nil
}

// StreamTurn persists the user message and starts the turn loop. The
// returned channel carries the turn's events and closes when the turn
// finishes or fails; setup errors are returned directly instead.
func (o *Orchestrator) StreamTurn(ctx context.Context, req TurnRequest) (<-chan domain.StreamEvent, error) {
	if req.Content == "" {
		return nil, domain.E(domain.CodeInvalidArgument, "orchestrator.StreamTurn", "message content is required", nil)
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	conv, err := o.store.Get(req.ConversationID)
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		conv = domain.Conversation{
			ID:        req.ConversationID,
			UserID:    req.UserID,
			CreatedAt: time.Now(),
		}
		if err := o.store.Create(conv); err != nil {
			return nil, domain.Wrap(domain.CodeInternal, "orchestrator.StreamTurn", err)
		}
	case err != nil:
		return nil, domain.Wrap(domain.CodeInternal, "orchestrator.StreamTurn", err)
	case conv.UserID != req.UserID:
		// Another user's conversation looks like no conversation at all.
		return nil, domain.ErrConversationNotFound
	}

	userMessage := domain.Message{
		ID:      req.MessageID,
		Role:    domain.RoleUser,
		Content: req.Content,
	}
	if err := o.store.SaveMessages(conv.ID, []domain.Message{userMessage}); err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "orchestrator.StreamTurn", err)
	}

	history, err := o.buildHistory(conv.ID)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "orchestrator.StreamTurn", err)
	}

	var sink StreamSink
	if o.openStream != nil {
		sink = o.openStream(conv.ID)
	}

	// The loop runs detached from the request context: a disconnected
	// client must not abort generation, only stop watching it.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), turnTimeout)

	events := make(chan domain.StreamEvent, eventBuffer)
	go func() {
		defer cancel()
		o.run(runCtx, conv, req, history, events, sink)
	}()
	return events, nil
}

type turn struct {
	events chan<- domain.StreamEvent
	sink   StreamSink

	mu         sync.Mutex
	transcript []domain.Message
}

func (t *turn) emit(ctx context.Context, event domain.StreamEvent) {
	if t.sink != nil {
		t.sink.Publish(event)
	}
	select {
	case t.events <- event:
	case <-ctx.Done():
	}
}

func (t *turn) record(msg domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transcript = append(t.transcript, msg)
}

func (o *Orchestrator) run(
	ctx context.Context,
	conv domain.Conversation,
	req TurnRequest,
	history []*schema.Message,
	events chan<- domain.StreamEvent,
	sink StreamSink,
) {
	t := &turn{events: events, sink: sink}
	defer func() {
		if sink != nil {
			sink.Close()
		}
		close(events)
	}()

	tagged, _ := o.tools.Tools(ctx, req.UserID, req.Credentials)
	adapted := o.tools.Adapt(tagged)
	byName := toolIndex(adapted, o.logger)

	chatModel := o.model
	if len(adapted) > 0 {
		infos := make([]*schema.ToolInfo, 0, len(adapted))
		for _, tool := range adapted {
			info, err := tool.Info(ctx)
			if err != nil {
				continue
			}
			infos = append(infos, info)
		}
		bound, err := o.model.WithTools(infos)
		if err != nil {
			o.logger.Error("tool binding failed, turn aborted",
				zap.String("conversation", conv.ID),
				zap.String("state", string(domain.TurnFailed)),
				zap.Error(err))
			t.emit(ctx, domain.StreamEvent{Type: domain.EventError, Message: genericTurnError})
			return
		}
		chatModel = bound
	}

	for step := 0; step < o.maxSteps; step++ {
		full, err := o.streamStep(ctx, t, chatModel, history)
		if err != nil {
			o.logger.Error("model step failed",
				zap.String("conversation", conv.ID),
				zap.Int("step", step),
				zap.String("state", string(domain.TurnFailed)),
				zap.Error(err))
			t.emit(ctx, domain.StreamEvent{Type: domain.EventError, Message: genericTurnError})
			return
		}

		done := o.recordAssistant(t, full)
		history = append(history, full)
		if done {
			break
		}

		toolMessages := o.executeToolCalls(ctx, t, byName, full.ToolCalls)
		history = append(history, toolMessages...)
	}

	if err := o.store.SaveMessages(conv.ID, t.transcript); err != nil {
		o.logger.Error("transcript persist failed",
			zap.String("conversation", conv.ID), zap.Error(err))
	}

	t.emit(ctx, domain.StreamEvent{Type: domain.EventFinish, Message: string(domain.TurnFinished)})

	// The title is a side computation; it must not delay turn completion.
	if conv.Title == "" {
		o.generateTitle(ctx, t, conv, req.Content)
	}
}

// streamStep runs one model call, forwarding deltas as they arrive, and
// returns the concatenated message.
func (o *Orchestrator) streamStep(
	ctx context.Context,
	t *turn,
	chatModel model.ToolCallingChatModel,
	history []*schema.Message,
) (*schema.Message, error) {
	reader, err := chatModel.Stream(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("model stream: %w", err)
	}
	defer reader.Close()

	var chunks []*schema.Message
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("model stream recv: %w", err)
		}
		if chunk.ReasoningContent != "" {
			t.emit(ctx, domain.StreamEvent{Type: domain.EventReasoningDelta, Delta: chunk.ReasoningContent})
		}
		if chunk.Content != "" {
			t.emit(ctx, domain.StreamEvent{Type: domain.EventTextDelta, Delta: chunk.Content})
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return nil, errors.New("model stream produced no output")
	}
	return schema.ConcatMessages(chunks)
}

// recordAssistant appends the assistant message to the transcript and
// reports whether the turn is complete (no tool calls requested).
func (o *Orchestrator) recordAssistant(t *turn, full *schema.Message) bool {
	msg := domain.Message{
		ID:      uuid.NewString(),
		Role:    domain.RoleAssistant,
		Content: full.Content,
	}
	if len(full.ToolCalls) > 0 {
		if parts, err := json.Marshal(assistantParts{ToolCalls: full.ToolCalls}); err == nil {
			msg.Parts = parts
		}
	}
	t.record(msg)
	return len(full.ToolCalls) == 0
}

// executeToolCalls runs the step's tool calls concurrently. Each call's
// outcome travels as a ToolResult; a broken tool produces an error result
// the model can react to, never an aborted turn.
func (o *Orchestrator) executeToolCalls(
	ctx context.Context,
	t *turn,
	byName map[string]*adapter.AdaptedTool,
	calls []schema.ToolCall,
) []*schema.Message {
	results := make([]domain.ToolResult, len(calls))

	for _, call := range calls {
		tool := byName[call.Function.Name]
		event := domain.StreamEvent{
			Type:       domain.EventToolCallStart,
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
		}
		if tool != nil {
			event.ServerID = tool.ServerID()
		}
		t.emit(ctx, event)
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call schema.ToolCall) {
			defer wg.Done()
			tool := byName[call.Function.Name]
			if tool == nil {
				results[i] = domain.Err(fmt.Sprintf("unknown tool: %s", call.Function.Name))
			} else {
				results[i] = tool.Invoke(ctx, json.RawMessage(call.Function.Arguments))
			}

			raw, err := json.Marshal(results[i])
			if err != nil {
				raw = json.RawMessage(`{"error":"unserializable tool result"}`)
			}
			event := domain.StreamEvent{
				Type:       domain.EventToolCallResult,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Result:     raw,
			}
			if tool != nil {
				event.ServerID = tool.ServerID()
			}
			t.emit(ctx, event)
		}(i, call)
	}
	wg.Wait()

	messages := make([]*schema.Message, 0, len(calls))
	for i, call := range calls {
		raw, err := json.Marshal(results[i])
		if err != nil {
			raw = json.RawMessage(`{"error":"unserializable tool result"}`)
		}

		toolMsg := domain.Message{
			ID:      uuid.NewString(),
			Role:    domain.RoleTool,
			Content: string(raw),
		}
		meta := toolParts{ToolCallID: call.ID, ToolName: call.Function.Name}
		if tool := byName[call.Function.Name]; tool != nil {
			meta.ServerID = tool.ServerID()
		}
		if parts, err := json.Marshal(meta); err == nil {
			toolMsg.Parts = parts
		}
		t.record(toolMsg)

		messages = append(messages, schema.ToolMessage(string(raw), call.ID))
	}
	return messages
}

// generateTitle produces the deferred conversation title. Best effort: a
// failure is logged and the conversation stays untitled.
func (o *Orchestrator) generateTitle(ctx context.Context, t *turn, conv domain.Conversation, firstMessage string) {
	titleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleTimeout)
	defer cancel()

	response, err := o.model.Generate(titleCtx, []*schema.Message{
		schema.SystemMessage(titleSystemPrompt),
		schema.UserMessage(firstMessage),
	})
	if err != nil || response.Content == "" {
		o.logger.Warn("title generation failed",
			zap.String("conversation", conv.ID), zap.Error(err))
		return
	}

	title := response.Content
	if err := o.store.UpdateTitle(conv.ID, title); err != nil {
		o.logger.Warn("title persist failed",
			zap.String("conversation", conv.ID), zap.Error(err))
		return
	}
	t.emit(ctx, domain.StreamEvent{Type: domain.EventTitle, Title: title})
}

// buildHistory reconstructs the model-facing transcript from the store.
func (o *Orchestrator) buildHistory(conversationID string) ([]*schema.Message, error) {
	stored, err := o.store.Messages(conversationID)
	if err != nil {
		return nil, err
	}

	history := make([]*schema.Message, 0, len(stored)+1)
	history = append(history, schema.SystemMessage(o.systemPrompt))
	for _, msg := range stored {
		switch msg.Role {
		case domain.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case domain.RoleAssistant:
			var parts assistantParts
			if len(msg.Parts) > 0 {
				if err := json.Unmarshal(msg.Parts, &parts); err != nil {
					o.logger.Warn("discarding unreadable assistant parts",
						zap.String("conversation", conversationID), zap.String("message", msg.ID))
				}
			}
			history = append(history, schema.AssistantMessage(msg.Content, parts.ToolCalls))
		case domain.RoleTool:
			var meta toolParts
			if len(msg.Parts) > 0 {
				if err := json.Unmarshal(msg.Parts, &meta); err != nil || meta.ToolCallID == "" {
					continue
				}
				history = append(history, schema.ToolMessage(msg.Content, meta.ToolCallID))
			}
		}
	}
	return history, nil
}

// toolIndex maps tool names to adapted tools. The model addresses tools
// by flat name, so a name collision across servers resolves to the first
// server in registry order.
func toolIndex(adapted []*adapter.AdaptedTool, logger *zap.Logger) map[string]*adapter.AdaptedTool {
	byName := make(map[string]*adapter.AdaptedTool, len(adapted))
	for _, tool := range adapted {
		if existing, ok := byName[tool.Name()]; ok {
			logger.Warn("tool name collision, keeping first",
				zap.String("tool", tool.Name()),
				zap.String("kept", existing.ServerID()),
				zap.String("shadowed", tool.ServerID()))
			continue
		}
		byName[tool.Name()] = tool
	}
	return byName
}

// assistantParts round-trips an assistant message's tool calls through
// persistence.
type assistantParts struct {
	ToolCalls []schema.ToolCall `json:"toolCalls,omitempty"`
}

// toolParts ties a persisted tool message back to the call it answered.
type toolParts struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName,omitempty"`
	ServerID   string `json:"serverId,omitempty"`
}
