package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/IvanShepeta/CRMconnector/internal/crm"
	"github.com/IvanShepeta/CRMconnector/internal/store"
	logx "github.com/IvanShepeta/CRMconnector/pkg/logger"
)

// Thread is the in-process conversational handle for one user. It
// accumulates the model-facing message history across turns and lives until
// the user asks for a new conversation. Only the owning user's task touches
// its messages.
type Thread struct {
	ID       string
	Created  time.Time
	messages []*schema.Message
}

func (t *Thread) remember(msgs ...*schema.Message) {
	t.messages = append(t.messages, msgs...)
}

// Manager owns the chat model, the CRM tools and the per-user thread cache.
// It is an explicitly constructed service with an Initialize/Shutdown
// lifecycle, injected into handlers rather than looked up globally.
type Manager struct {
	cfg      Config
	contexts store.ContextStore
	tools    map[string]tool.InvokableTool
	infos    []*schema.ToolInfo

	mu          sync.RWMutex
	chatModel   model.ToolCallingChatModel
	threads     map[string]*Thread
	initialized bool
}

// Option customises a Manager.
type Option func(*Manager)

// WithChatModel injects a prebuilt chat model, skipping the Gemini client
// construction during Initialize. Used by tests.
func WithChatModel(cm model.ToolCallingChatModel) Option {
	return func(m *Manager) { m.chatModel = cm }
}

func NewManager(cfg Config, contexts store.ContextStore, tools []tool.InvokableTool, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		contexts: contexts,
		tools:    map[string]tool.InvokableTool{},
		threads:  map[string]*Thread{},
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, t := range tools {
		if info, err := t.Info(context.Background()); err == nil {
			m.tools[info.Name] = t
			m.infos = append(m.infos, info)
		} else {
			logx.Error().Err(err).Msg("skipping tool with unresolved info")
		}
	}
	return m
}

// Initialize builds the Gemini chat model (unless one was injected) and
// binds the CRM tools to it. Idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	if m.chatModel == nil {
		cm, err := m.buildGeminiModel(ctx)
		if err != nil {
			return err
		}
		m.chatModel = cm
	}

	if len(m.infos) > 0 {
		bound, err := m.chatModel.WithTools(m.infos)
		if err != nil {
			logx.Error().Err(err).Msg("failed to bind tools to chat model")
			return fmt.Errorf("bind tools: %w", err)
		}
		m.chatModel = bound
	}

	m.initialized = true
	logx.Info().Str("model", m.cfg.Model.Model).Int("tools", len(m.infos)).Msg("agent manager initialized")
	return nil
}

func (m *Manager) buildGeminiModel(ctx context.Context) (model.ToolCallingChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  m.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if m.cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = m.cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       m.cfg.Model.Model,
		Temperature: &m.cfg.Model.Temperature,
		MaxTokens:   &m.cfg.Model.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("error creating chat model")
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	return cm, nil
}

// Shutdown drops all cached threads and marks the manager uninitialized.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = map[string]*Thread{}
	m.initialized = false
	logx.Info().Msg("agent manager shut down")
}

// Initialized reports whether Initialize has completed.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// ClearThread drops the user's cached thread so the next message starts a
// fresh agent-side conversation. Idempotent; durable session, context and
// history are untouched.
func (m *Manager) ClearThread(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[userID]; ok {
		delete(m.threads, userID)
		logx.Debug().Str("user_id", userID).Msg("thread cleared")
	}
}

// ThreadCount returns the number of cached threads.
func (m *Manager) ThreadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

func (m *Manager) threadFor(userID string) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[userID]
	if !ok {
		th = &Thread{ID: uuid.NewString(), Created: time.Now()}
		m.threads[userID] = th
		logx.Debug().Str("user_id", userID).Str("thread_id", th.ID).Msg("thread created")
	}
	return th
}

// StreamReply produces the assistant reply for one user message as a stream
// of text fragments. Tool calls are resolved before the final answer; the
// thread remembers the exchange only after a successful turn.
func (m *Manager) StreamReply(ctx context.Context, userID, message string) (*schema.StreamReader[string], error) {
	if !m.Initialized() {
		return nil, fmt.Errorf("agent manager is not initialized")
	}

	th := m.threadFor(userID)

	msgs := make([]*schema.Message, 0, len(th.messages)+2)
	msgs = append(msgs, schema.SystemMessage(m.systemPrompt(ctx, userID)))
	msgs = append(msgs, th.messages...)
	msgs = append(msgs, schema.UserMessage(message))

	ctx = crm.WithUserID(ctx, userID)

	sr, sw := schema.Pipe[string](8)
	go func() {
		defer sw.Close()
		reply, err := m.converse(ctx, msgs, sw)
		if err != nil {
			logx.Error().Err(err).Str("user_id", userID).Msg("agent turn failed")
			sw.Send("", err)
			return
		}
		th.remember(schema.UserMessage(message), schema.AssistantMessage(reply.Content, nil))
		m.logUsage(userID, reply)
	}()
	return sr, nil
}

// converse runs the model, resolving tool calls round by round, forwarding
// content fragments to the writer as they arrive. Returns the concatenated
// final assistant message.
func (m *Manager) converse(ctx context.Context, msgs []*schema.Message, sw *schema.StreamWriter[string]) (*schema.Message, error) {
	for round := 0; round <= m.cfg.MaxToolCalls; round++ {
		stream, err := m.chatModel.Stream(ctx, msgs)
		if err != nil {
			return nil, err
		}

		chunks := make([]*schema.Message, 0, 8)
		for {
			chunk, rerr := stream.Recv()
			if errors.Is(rerr, io.EOF) {
				break
			}
			if rerr != nil {
				stream.Close()
				return nil, rerr
			}
			if chunk.Content != "" {
				sw.Send(chunk.Content, nil)
			}
			chunks = append(chunks, chunk)
		}
		stream.Close()

		reply, err := schema.ConcatMessages(chunks)
		if err != nil {
			return nil, fmt.Errorf("concat model stream: %w", err)
		}
		msgs = append(msgs, reply)

		if len(reply.ToolCalls) == 0 {
			return reply, nil
		}
		for _, call := range reply.ToolCalls {
			msgs = append(msgs, schema.ToolMessage(m.invokeTool(ctx, call), call.ID))
		}
	}
	return nil, fmt.Errorf("tool call limit (%d) exceeded", m.cfg.MaxToolCalls)
}

// invokeTool executes one tool call. Unknown tools and tool failures produce
// a compact structured result the model can recover from instead of failing
// the whole turn.
func (m *Manager) invokeTool(ctx context.Context, call schema.ToolCall) string {
	t, ok := m.tools[call.Function.Name]
	if !ok {
		logx.Warn().Str("tool_name", call.Function.Name).Str("arguments", call.Function.Arguments).
			Msg("unknown or invalid tool call; returning fallback result")
		return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"note\":\"ignored\"}", call.Function.Name)
	}

	out, err := t.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		logx.Error().Err(err).Str("tool_name", call.Function.Name).Msg("tool execution failed")
		return fmt.Sprintf("{\"error\":%q,\"name\":%q}", err.Error(), call.Function.Name)
	}
	return out
}

// systemPrompt folds the recalled user profile into the agent instructions.
func (m *Manager) systemPrompt(ctx context.Context, userID string) string {
	return fmt.Sprintf("%s\n\n[SYSTEM] User ID: %s\nUser context: %s\nUse this information to personalize your answers.",
		m.cfg.Instructions, userID, m.recallProfile(ctx, userID))
}

// recallProfile summarizes the durable context. Any lookup failure degrades
// to a new-client profile rather than blocking the turn.
func (m *Manager) recallProfile(ctx context.Context, userID string) string {
	c, err := m.contexts.LoadContext(ctx, userID)
	if err != nil {
		logx.Warn().Err(err).Str("user_id", userID).Msg("context lookup failed, treating as new client")
	}
	if c == nil {
		return `{"is_new_client":true}`
	}

	viewed := m.recentViewedCourses(ctx, userID, c)
	profile := map[string]any{
		"is_returning_client": true,
		"first_contact":       c.FirstContact.Format(time.RFC3339),
		"conversation_count":  c.ConversationCount,
		"viewed_courses":      viewed,
	}
	if c.Company != "" {
		profile["company"] = c.Company
	}
	return crm.MarshalResult(profile)
}

// recentViewedCourses unions the context snapshot with the viewed set the
// course tools write into, capped at the last 5. The set is the live source;
// the snapshot covers contexts migrated from elsewhere.
func (m *Manager) recentViewedCourses(ctx context.Context, userID string, c *store.Context) []string {
	viewed := append([]string(nil), c.ViewedCourses...)
	codes, err := m.contexts.ViewedCourses(ctx, userID)
	if err != nil {
		logx.Warn().Err(err).Str("user_id", userID).Msg("viewed courses lookup failed")
	}
	for _, code := range codes {
		known := false
		for _, v := range viewed {
			if v == code {
				known = true
				break
			}
		}
		if !known {
			viewed = append(viewed, code)
		}
	}
	if len(viewed) > 5 {
		viewed = viewed[len(viewed)-5:]
	}
	return viewed
}

func (m *Manager) logUsage(userID string, reply *schema.Message) {
	if reply == nil || reply.ResponseMeta == nil || reply.ResponseMeta.Usage == nil {
		return
	}
	usage := reply.ResponseMeta.Usage
	inC, outC, totalC := ComputeCost(usage, ResolvePricing(m.cfg.Model.Model))
	logx.Debug().
		Str("user_id", userID).
		Str("model", m.cfg.Model.Model).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
}
