package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/agentd/runtime/account"
	acctmem "goa.design/agentd/runtime/account/inmem"
	"goa.design/agentd/runtime/channel"
	chanmem "goa.design/agentd/runtime/channel/inmem"
	"goa.design/agentd/runtime/clock"
	govmem "goa.design/agentd/runtime/governance/inmem"
	"goa.design/agentd/runtime/ident"
	"goa.design/agentd/runtime/model"
	"goa.design/agentd/runtime/model/modeltest"
	"goa.design/agentd/runtime/registry"
	schedmem "goa.design/agentd/runtime/schedule/inmem"
	"goa.design/agentd/runtime/session"
	sessmem "goa.design/agentd/runtime/session/inmem"
	"goa.design/agentd/runtime/turn"
	"goa.design/agentd/server"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ts       *httptest.Server
	sessions *sessmem.Store
	channels *chanmem.Store
	sink     *captureSink
}

type captureSink struct {
	mu     sync.Mutex
	events []turn.Event
}

func (c *captureSink) Send(_ context.Context, e turn.Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) snapshot() []turn.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]turn.Event, len(c.events))
	copy(out, c.events)
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sessions := sessmem.New()
	channels := chanmem.New()
	agents := acctmem.New()
	clk := clock.NewVirtual(start)

	require.NoError(t, agents.PutAgent(context.Background(), account.Agent{
		ID:             "assistant",
		PermissionMode: account.ModeStandard,
		TokenBudget:    1_000_000,
		QuotaPeriod:    account.PeriodLifetime,
	}))

	reg, err := registry.New(registry.Options{
		Providers: map[string]registry.Provider{"test": {APIKeyEnv: "TEST_API_KEY"}},
		LookupEnv: func(string) (string, bool) { return "key", true },
	})
	require.NoError(t, err)
	reg.Register("test", func(string, string) (model.Client, error) {
		return modeltest.New(
			model.Chunk{Type: model.ChunkText, TextDelta: "Hi "},
			model.Chunk{Type: model.ChunkText, TextDelta: "there."},
			model.Chunk{Type: model.ChunkUsage, Usage: &model.Usage{InputTokens: 2, OutputTokens: 3, TotalTokens: 5}},
			model.Chunk{Type: model.ChunkStop, FinishReason: "end_turn"},
		), nil
	})

	pipe, err := turn.NewPipeline(turn.Options{
		Sessions: sessions,
		Agents:   agents,
		Registry: reg,
		Bind: func(agentID string) (turn.Binding, error) {
			return turn.Binding{Provider: "test", ModelID: "test-model"}, nil
		},
		Clock: clk,
		IDs:   ident.NewSequence("msg"),
	})
	require.NoError(t, err)

	sink := &captureSink{}
	srv, err := server.New(server.Options{
		Sessions:        sessions,
		Channels:        channels,
		Agents:          agents,
		Schedules:       schedmem.New(govmem.New()),
		Pipeline:        pipe,
		Clock:           clk,
		IDs:             ident.NewSequence("gen"),
		Sink:            sink,
		SessionCapacity: 10_000,
		Version:         "test",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, sessions: sessions, channels: channels, sink: sink}
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

type sseEvent struct {
	name  string
	event turn.Event
}

func parseSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.event))
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/runtime/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "agentd", status["service"])
	require.Equal(t, "running", status["phase"])
	require.Equal(t, "test", status["version"])
}

func TestCreateChannel(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/channels/cli-main/create", `{"type":"CLI","agentId":"assistant"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	ch, err := f.channels.LoadChannel(context.Background(), "cli-main")
	require.NoError(t, err)
	require.Equal(t, channel.TypeCLI, ch.Type)
	require.Equal(t, "assistant", ch.AgentID)
}

func TestCreateChannelRejectsBadType(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/channels/cli-main/create", `{"type":"Telepathy","agentId":"assistant"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ValidationError", body["error"])
}

func TestChannelMessageStreamsSSE(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/channels/cli-main/create", `{"type":"CLI","agentId":"assistant"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.post(t, "/channels/cli-main/messages", `{"turnId":"turn-1","content":"hello"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := parseSSE(t, resp.Body)
	require.Len(t, events, 4)
	require.Equal(t, "turn.started", events[0].name)
	require.Equal(t, "assistant.delta", events[1].name)
	require.Equal(t, "assistant.delta", events[2].name)
	require.Equal(t, "turn.completed", events[3].name)
	require.Equal(t, "Hi ", events[1].event.Delta)
	require.Equal(t, uint64(0), events[0].event.Sequence)
	require.Equal(t, "end_turn", events[3].event.FinishReason)

	// The lazily opened session accumulated both turns.
	ch, err := f.channels.LoadChannel(context.Background(), "cli-main")
	require.NoError(t, err)
	require.NotEmpty(t, ch.ActiveSessionID)
	turns, err := f.sessions.ListTurns(context.Background(), ch.ActiveSessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, session.RoleUser, turns[0].Role)
	require.Equal(t, session.RoleAssistant, turns[1].Role)
	require.Equal(t, "Hi there.", turns[1].Content)
}

func TestChannelMessageUnknownChannel(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/channels/ghost/messages", `{"turnId":"turn-1","content":"hello"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ChannelNotFound", body["error"])
}

func TestChannelRebindKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/channels/cli-main/create", `{"type":"CLI","agentId":"assistant"}`).Body.Close()
	f.post(t, "/channels/cli-main/messages", `{"turnId":"turn-1","content":"hello"}`).Body.Close()

	before, err := f.channels.LoadChannel(context.Background(), "cli-main")
	require.NoError(t, err)
	require.NotEmpty(t, before.ActiveSessionID)

	resp := f.post(t, "/channels/cli-main/create", `{"type":"Web","agentId":"assistant"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	after, err := f.channels.LoadChannel(context.Background(), "cli-main")
	require.NoError(t, err)
	require.Equal(t, before.ActiveSessionID, after.ActiveSessionID)
	require.Equal(t, channel.TypeWeb, after.Type)
}

func TestSubmitTurnOnSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.sessions.StartSession(context.Background(), session.Session{
		ID:             "sess-direct",
		ConversationID: "conv-direct",
		TokenCapacity:  10_000,
	})
	require.NoError(t, err)

	resp := f.post(t, "/sessions/sess-direct/turns", `{"turnId":"turn-9","agentId":"assistant","content":"hello"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := parseSSE(t, resp.Body)
	require.NotEmpty(t, events)
	require.Equal(t, "turn.started", events[0].name)
	require.Equal(t, "turn.completed", events[len(events)-1].name)
}

func TestSubmitTurnUnknownSession(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/sessions/missing/turns", `{"turnId":"turn-1","agentId":"assistant","content":"hi"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitTurnRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/sessions/sess/turns", `{"turnId":"t","agentId":"a","content":"c","shout":true}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSinkMirrorsTurnEvents(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/channels/cli-main/create", `{"type":"CLI","agentId":"assistant"}`).Body.Close()
	resp := f.post(t, "/channels/cli-main/messages", `{"turnId":"turn-1","content":"hello"}`)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		events := f.sink.snapshot()
		return len(events) == 4 && events[len(events)-1].Type == turn.EventTurnCompleted
	}, 2*time.Second, 10*time.Millisecond, "sink did not receive the mirrored stream")
}

func TestSSEFraming(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/channels/cli-main/create", `{"type":"CLI","agentId":"assistant"}`).Body.Close()
	resp := f.post(t, "/channels/cli-main/messages", `{"turnId":"turn-1","content":"hello"}`)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := bytes.Split(bytes.TrimSuffix(raw, []byte("\n\n")), []byte("\n\n"))
	require.Len(t, frames, 4)
	for i, frame := range frames {
		lines := bytes.Split(frame, []byte("\n"))
		require.Len(t, lines, 2, "frame %d = %q", i, frame)
		require.True(t, bytes.HasPrefix(lines[0], []byte("event: ")), "frame %d", i)
		require.True(t, bytes.HasPrefix(lines[1], []byte("data: ")), "frame %d", i)
	}
}

func TestChannelMessageMintsTurnID(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/channels/cli-main/create", `{"type":"CLI","agentId":"assistant"}`).Body.Close()

	// turnId is optional on the channel surface; the server mints one.
	resp := f.post(t, "/channels/cli-main/messages", `{"content":"hello"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := parseSSE(t, resp.Body)
	require.NotEmpty(t, events)
	require.Equal(t, "turn.started", events[0].name)
	require.NotEmpty(t, events[0].event.TurnID)
	require.Equal(t, "turn.completed", events[len(events)-1].name)
}

// blockingModel holds its stream open until the stream context fires, so
// tests can observe what cancellation reaches an in-flight model call.
type blockingModel struct {
	started chan struct{}
	ctxDone chan struct{}
}

func newBlockingModel() *blockingModel {
	return &blockingModel{started: make(chan struct{}), ctxDone: make(chan struct{})}
}

func (m *blockingModel) Complete(context.Context, model.Request) (model.Response, error) {
	return model.Response{}, errors.New("complete not expected")
}

func (m *blockingModel) Stream(ctx context.Context, _ model.Request) (model.Streamer, error) {
	close(m.started)
	return &blockingModelStream{ctx: ctx, done: m.ctxDone}, nil
}

type blockingModelStream struct {
	ctx  context.Context
	done chan struct{}
}

func (s *blockingModelStream) Recv() (model.Chunk, error) {
	<-s.ctx.Done()
	close(s.done)
	return model.Chunk{}, s.ctx.Err()
}

func (s *blockingModelStream) Close() error { return nil }

func TestClientDisconnectReleasesHandlerAndShutdownCancelsTurn(t *testing.T) {
	sessions := sessmem.New()
	channels := chanmem.New()
	agents := acctmem.New()
	clk := clock.NewVirtual(start)
	require.NoError(t, agents.PutAgent(context.Background(), account.Agent{
		ID:          "assistant",
		TokenBudget: 1_000_000,
		QuotaPeriod: account.PeriodLifetime,
	}))
	_, err := sessions.StartSession(context.Background(), session.Session{
		ID:             "sess-1",
		ConversationID: "conv-1",
		TokenCapacity:  10_000,
	})
	require.NoError(t, err)

	blocking := newBlockingModel()
	reg, err := registry.New(registry.Options{
		Providers: map[string]registry.Provider{"test": {APIKeyEnv: "TEST_API_KEY"}},
		LookupEnv: func(string) (string, bool) { return "key", true },
	})
	require.NoError(t, err)
	reg.Register("test", func(string, string) (model.Client, error) { return blocking, nil })

	pipe, err := turn.NewPipeline(turn.Options{
		Sessions: sessions,
		Agents:   agents,
		Registry: reg,
		Bind: func(string) (turn.Binding, error) {
			return turn.Binding{Provider: "test", ModelID: "test-model"}, nil
		},
		Clock: clk,
		IDs:   ident.NewSequence("msg"),
	})
	require.NoError(t, err)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv, err := server.New(server.Options{
		Sessions:    sessions,
		Channels:    channels,
		Agents:      agents,
		Schedules:   schedmem.New(govmem.New()),
		Pipeline:    pipe,
		Clock:       clk,
		IDs:         ident.NewSequence("gen"),
		BaseContext: baseCtx,
		Version:     "test",
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	defer cancelReq()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		ts.URL+"/sessions/sess-1/turns",
		strings.NewReader(`{"turnId":"turn-1","agentId":"assistant","content":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	// Read the turn.started frame, then drop the connection.
	br := bufio.NewReader(resp.Body)
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			break
		}
	}
	<-blocking.started
	cancelReq()
	resp.Body.Close()

	// The handler must come back without the turn finishing, so the server
	// shuts down promptly.
	closed := make(chan struct{})
	go func() {
		ts.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("server close wedged by a disconnected SSE stream")
	}

	// The disconnect alone must not abort the in-flight model call.
	select {
	case <-blocking.ctxDone:
		t.Fatal("client disconnect cancelled the in-flight turn")
	default:
	}

	// Runtime shutdown must.
	cancelBase()
	select {
	case <-blocking.ctxDone:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not cancel the in-flight model call")
	}
}
