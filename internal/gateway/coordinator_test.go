package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanShepeta/CRMconnector/internal/store"
)

type fakeStreamer struct {
	chunks    []string
	err       error
	streamErr error
	calls     int
}

func (f *fakeStreamer) StreamReply(context.Context, string, string) (*schema.StreamReader[string], error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.streamErr != nil {
		sr, sw := schema.Pipe[string](len(f.chunks) + 1)
		for _, c := range f.chunks {
			sw.Send(c, nil)
		}
		sw.Send("", f.streamErr)
		sw.Close()
		return sr, nil
	}
	return schema.StreamReaderFromArray(f.chunks), nil
}

func newTestCoordinator(agent Streamer) (*Coordinator, *store.MemoryStore, *Registry) {
	st := store.NewMemoryStore()
	r := NewRegistry(st)
	return NewCoordinator(r, st, agent), st, r
}

func TestCoordinator_FullTurn(t *testing.T) {
	ctx := context.Background()
	agent := &fakeStreamer{chunks: []string{"hel", "lo"}}
	c, st, r := newTestCoordinator(agent)

	conn := &fakeConn{}
	_, err := r.Connect(ctx, "42", conn, "1.2.3.4")
	require.NoError(t, err)

	c.HandleInbound(ctx, "42", []byte(`{"message":"hi"}`))

	events := conn.Events()
	require.Len(t, events, 4)
	assert.Equal(t, MessageEvent(store.RoleUser, "hi"), events[0])
	assert.Equal(t, ChunkEvent("hel"), events[1])
	assert.Equal(t, ChunkEvent("lo"), events[2])
	assert.Equal(t, StreamEndEvent(), events[3])

	history, err := st.History(ctx, "42", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, store.RoleAssistant, history[1].Role)
	assert.Equal(t, "hello", history[1].Content)

	sess, err := st.GetSession(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.TotalMessages)

	uc, err := st.LoadContext(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, uc)
	assert.Equal(t, 1, uc.ConversationCount)
}

func TestCoordinator_EmptyMessageIgnored(t *testing.T) {
	ctx := context.Background()
	agent := &fakeStreamer{chunks: []string{"unused"}}
	c, st, r := newTestCoordinator(agent)

	conn := &fakeConn{}
	_, err := r.Connect(ctx, "42", conn, "1.2.3.4")
	require.NoError(t, err)

	c.HandleInbound(ctx, "42", []byte(`{"message":""}`))
	c.HandleInbound(ctx, "42", []byte(`{"message":"   "}`))
	c.HandleInbound(ctx, "42", []byte(`{}`))

	assert.Empty(t, conn.Events(), "empty messages must produce no outbound events")
	assert.Zero(t, agent.calls)
	history, err := st.History(ctx, "42", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCoordinator_MalformedPayloadIgnored(t *testing.T) {
	ctx := context.Background()
	agent := &fakeStreamer{}
	c, st, r := newTestCoordinator(agent)

	conn := &fakeConn{}
	_, err := r.Connect(ctx, "42", conn, "1.2.3.4")
	require.NoError(t, err)

	c.HandleInbound(ctx, "42", []byte(`not json at all`))

	assert.Empty(t, conn.Events())
	assert.Zero(t, agent.calls)
	history, err := st.History(ctx, "42", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCoordinator_AgentFailureDeliversErrorInline(t *testing.T) {
	ctx := context.Background()
	agent := &fakeStreamer{err: errors.New("agent unavailable")}
	c, st, r := newTestCoordinator(agent)

	conn := &fakeConn{}
	_, err := r.Connect(ctx, "42", conn, "1.2.3.4")
	require.NoError(t, err)

	c.HandleInbound(ctx, "42", []byte(`{"message":"hi"}`))

	events := conn.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventMessage, events[0].Type)
	assert.Equal(t, EventError, events[1].Type)

	// the failed turn is not persisted and bumps no counter
	history, err := st.History(ctx, "42", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.RoleUser, history[0].Role)

	uc, err := st.LoadContext(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, uc, "context must not be touched for failed turns")

	// the session stays open for further messages
	agent.err = nil
	agent.chunks = []string{"recovered"}
	c.HandleInbound(ctx, "42", []byte(`{"message":"again"}`))
	history, err = st.History(ctx, "42", 10)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestCoordinator_MidStreamFailureAbandonsTurn(t *testing.T) {
	ctx := context.Background()
	agent := &fakeStreamer{chunks: []string{"par"}, streamErr: errors.New("stream cut")}
	c, st, r := newTestCoordinator(agent)

	conn := &fakeConn{}
	_, err := r.Connect(ctx, "42", conn, "1.2.3.4")
	require.NoError(t, err)

	c.HandleInbound(ctx, "42", []byte(`{"message":"hi"}`))

	events := conn.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	for _, ev := range events {
		assert.NotEqual(t, EventStreamEnd, ev.Type, "a cut stream must not be marked complete")
	}

	history, err := st.History(ctx, "42", 10)
	require.NoError(t, err)
	require.Len(t, history, 1, "partial replies are not persisted")
}
