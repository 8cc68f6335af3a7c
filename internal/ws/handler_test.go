package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bannerforge/bannerforge/internal/generation"
	"github.com/bannerforge/bannerforge/internal/logging"
)

type stubPush struct {
	mu      sync.Mutex
	handler generation.PushHandler
}

func (p *stubPush) Open(jobID string, h generation.PushHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
	return nil
}

func (p *stubPush) Close() {}

func (p *stubPush) Handler() generation.PushHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

type stubPoll struct{}

func (stubPoll) Start(string, generation.PollHandler) {}

func (stubPoll) Stop() {}

// frame is the union of all server-to-browser frame shapes.
type frame struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Content  string `json:"content"`
}

type streamFixture struct {
	coord *generation.Coordinator
	push  *stubPush
	srv   *httptest.Server
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	push := &stubPush{}
	coord := generation.NewCoordinator(push, stubPoll{}, nil, nil, logging.NewNop(), nil)
	t.Cleanup(coord.Close)

	router := gin.New()
	router.GET("/stream", NewHandler(coord, logging.NewNop(), nil).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &streamFixture{coord: coord, push: push, srv: srv}
}

func (f *streamFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var fr frame
	require.NoError(t, conn.ReadJSON(&fr))
	return fr
}

// readUntil reads frames until one of the given type arrives, returning every
// frame seen on the way.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) []frame {
	t.Helper()
	var seen []frame
	for i := 0; i < 32; i++ {
		fr := readFrame(t, conn)
		seen = append(seen, fr)
		if fr.Type == frameType {
			return seen
		}
	}
	t.Fatalf("no %q frame within 32 frames", frameType)
	return nil
}

func TestStreamGenerateRoundTrip(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "generate", "prompt": "summer sale banner"}))

	start := readUntil(t, conn, "generation_start")
	jobID := start[len(start)-1].JobID
	require.NotEmpty(t, jobID)

	h := f.push.Handler()
	require.NotNil(t, h)
	h.HandlePushEvent(generation.Event{Type: generation.EventStatus, JobID: jobID, State: "generating", Progress: 10, Message: "Generating HTML"})
	h.HandlePushEvent(generation.Event{Type: generation.EventChunk, JobID: jobID, Chunk: "<h1>"})
	h.HandlePushEvent(generation.Event{Type: generation.EventChunk, JobID: jobID, Chunk: "</h1>", IsComplete: true})
	h.HandlePushEvent(generation.Event{Type: generation.EventTerminal, JobID: jobID, Outcome: generation.OutcomeComplete})

	frames := readUntil(t, conn, "complete")

	var tokens strings.Builder
	sawProgress := false
	for _, fr := range frames {
		switch fr.Type {
		case "generation_token":
			tokens.WriteString(fr.Content)
		case "status":
			if fr.Progress == 10 {
				sawProgress = true
			}
		}
	}
	assert.Equal(t, "<h1></h1>", tokens.String(), "token frames must reassemble the full output")
	assert.True(t, sawProgress, "progress update must reach the browser")
	assert.Equal(t, jobID, frames[len(frames)-1].JobID)
}

func TestStreamReplaysCurrentJobOnConnect(t *testing.T) {
	f := newStreamFixture(t)

	jobID, err := f.coord.Start(context.Background(), generation.Request{Prompt: "banner"})
	require.NoError(t, err)
	f.push.Handler().HandlePushEvent(generation.Event{Type: generation.EventChunk, JobID: jobID, Chunk: "<h1>partial"})
	require.Eventually(t, func() bool {
		return f.coord.Job().Buffer == "<h1>partial"
	}, 2*time.Second, 5*time.Millisecond)

	// A client connecting mid-job gets the state repainted before any
	// incremental updates.
	conn := f.dial(t)
	frames := readUntil(t, conn, "generation_token")
	assert.Equal(t, "status", frames[0].Type)
	assert.Equal(t, jobID, frames[0].JobID)
	assert.Equal(t, "generating", frames[0].State)
	assert.Equal(t, "<h1>partial", frames[len(frames)-1].Content)
}

func TestStreamGenerateWhileActiveRejected(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "generate", "prompt": "first"}))
	readUntil(t, conn, "generation_start")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "generate", "prompt": "second"}))
	frames := readUntil(t, conn, "error")
	assert.Contains(t, frames[len(frames)-1].Message, "already active")
}

func TestStreamCancel(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "generate", "prompt": "banner"}))
	readUntil(t, conn, "generation_start")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "cancel"}))
	frames := readUntil(t, conn, "error")
	assert.Contains(t, frames[len(frames)-1].Message, "canceled")
	assert.Equal(t, generation.StateFailed, f.coord.Job().State)
}

func TestStreamSlowClientStillGetsTerminal(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "generate", "prompt": "banner"}))
	start := readUntil(t, conn, "generation_start")
	jobID := start[len(start)-1].JobID

	// Flood the session with output while the client reads nothing, so the
	// relay writer falls behind and snapshots coalesce. The terminal frame
	// must survive the backlog.
	h := f.push.Handler()
	chunk := strings.Repeat("x", 1024)
	const chunks = 300
	for i := 0; i < chunks; i++ {
		h.HandlePushEvent(generation.Event{Type: generation.EventChunk, JobID: jobID, Chunk: chunk})
	}
	h.HandlePushEvent(generation.Event{Type: generation.EventTerminal, JobID: jobID, Outcome: generation.OutcomeComplete})
	require.Eventually(t, func() bool {
		return f.coord.Job().State.Terminal()
	}, 2*time.Second, 5*time.Millisecond)

	var tokens strings.Builder
	for i := 0; i < 4*chunks; i++ {
		fr := readFrame(t, conn)
		if fr.Type == "generation_token" {
			tokens.WriteString(fr.Content)
		}
		if fr.Type == "complete" {
			assert.Equal(t, chunks*len(chunk), tokens.Len(),
				"coalesced token frames must still reassemble the full output")
			return
		}
	}
	t.Fatal("terminal frame never arrived")
}

func TestStreamPing(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn).Type)
}

func TestStreamUnknownMessage(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "reticulate"}))
	fr := readFrame(t, conn)
	assert.Equal(t, "error", fr.Type)
	assert.Contains(t, fr.Message, "unknown message type")
}
