package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/IvanShepeta/CRMconnector/internal/store"
	logx "github.com/IvanShepeta/CRMconnector/pkg/logger"
)

// agentErrorNotice is delivered inline when a reply cannot be produced.
// Failed turns are not persisted and do not bump any counter.
const agentErrorNotice = "Sorry, something went wrong while preparing the answer. Please try again."

// Streamer produces an assistant reply as a stream of text fragments. The
// agent manager implements it for production; tests substitute canned
// streams.
type Streamer interface {
	StreamReply(ctx context.Context, userID, message string) (*schema.StreamReader[string], error)
}

// inbound is the client frame. Anything else on the wire is ignored.
type inbound struct {
	Message string `json:"message"`
}

// Coordinator drives one user turn end to end: persist the user message,
// stream the agent reply through the registry, persist the assembled reply
// and bump the per-user counters. Failures never propagate past the turn.
type Coordinator struct {
	registry *Registry
	store    store.Store
	agent    Streamer
}

func NewCoordinator(registry *Registry, st store.Store, agent Streamer) *Coordinator {
	return &Coordinator{registry: registry, store: st, agent: agent}
}

// HandleInbound processes one raw frame received from the user's channel.
// Malformed payloads and empty messages are dropped without any state change.
func (c *Coordinator) HandleInbound(ctx context.Context, userID string, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		logx.Debug().Err(err).Str("user_id", userID).Msg("ignoring malformed inbound payload")
		return
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return
	}

	// echo + persist the user turn; this is the only place the session
	// message counter moves
	c.registry.Send(ctx, userID, store.RoleUser, msg)

	reply, err := c.streamReply(ctx, userID, msg)
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("agent reply failed")
		c.registry.SendTransient(userID, ErrorEvent(agentErrorNotice))
		if _, err := c.store.IncrementMetric(ctx, "agent_errors"); err != nil {
			logx.Debug().Err(err).Msg("failed to bump error metric")
		}
		return
	}

	c.registry.SendStreamEnd(userID)

	if err := c.store.AppendMessage(ctx, userID, store.RoleAssistant, reply); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to persist assistant turn")
	}
	if _, err := c.store.UpdateContext(ctx, userID, store.ContextUpdate{}); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to update context")
	}
	if _, err := c.store.IncrementMetric(ctx, "messages_processed"); err != nil {
		logx.Debug().Err(err).Msg("failed to bump message metric")
	}
}

// streamReply forwards fragments to the user as they arrive and returns the
// assembled reply. An error mid-stream abandons the turn; whatever fragments
// already went out are followed by an error event, not a stream end.
func (c *Coordinator) streamReply(ctx context.Context, userID, msg string) (string, error) {
	sr, err := c.agent.StreamReply(ctx, userID, msg)
	if err != nil {
		return "", err
	}
	defer sr.Close()

	var full strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		full.WriteString(chunk)
		c.registry.SendChunk(userID, chunk)
	}
	return full.String(), nil
}
