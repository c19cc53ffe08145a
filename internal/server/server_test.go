package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/plaudern/plaudern/internal/cache"
	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/connectivity"
	"github.com/plaudern/plaudern/internal/remote"
	"github.com/plaudern/plaudern/internal/roomsync"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	channel *remote.MockChannel
	monitor *connectivity.Monitor
	ctrl    *roomsync.Controller
	srv     *Server
	http    *httptest.Server
}

func newFixture(t *testing.T, initial connectivity.State) *fixture {
	t.Helper()
	f := &fixture{channel: remote.NewMockChannel()}
	f.channel.SetAutoDeliver(true)

	mon, err := connectivity.NewMonitor(connectivity.MonitorOpts{})
	require.NoError(t, err)
	mon.Set(initial)
	f.monitor = mon

	f.ctrl, err = roomsync.New(roomsync.Options{
		Room:         "general",
		User:         chat.Sender{ID: "u1", Name: "alice"},
		Display:      roomsync.Display{Color: "#474056"},
		Channel:      f.channel,
		Cache:        cache.NewMemoryStore(),
		Connectivity: mon,
		Clock:        func() time.Time { return t0 },
	})
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Start(context.Background()))

	f.srv, err = New(Opts{
		Engine:       f.ctrl,
		Connectivity: mon,
		Heartbeat:    time.Hour,
	})
	require.NoError(t, err)
	f.http = httptest.NewServer(f.srv.Handler())

	t.Cleanup(func() {
		f.http.Close()
		f.ctrl.Close()
	})
	return f
}

func (f *fixture) post(t *testing.T, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(f.http.URL+"/api/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{})
	require.ErrorContains(t, err, "engine is required")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	resp, err := http.Get(f.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "plaudern_controller_state")
}

func TestPostAndListMessages(t *testing.T) {
	f := newFixture(t, connectivity.Online)

	resp, _ := f.post(t, `{"text":"  hello  "}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = f.post(t, `{"location":{"latitude":52.52,"longitude":13.40}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	get, err := http.Get(f.http.URL + "/api/messages")
	require.NoError(t, err)
	defer get.Body.Close()
	var list messagesResponse
	require.NoError(t, json.NewDecoder(get.Body).Decode(&list))

	require.Equal(t, "general", list.Room)
	require.Equal(t, "live_synced", list.State)
	require.Len(t, list.Messages, 2)
	// Equal commit times fall back to descending ID.
	require.Equal(t, "m-0002", list.Messages[0].ID)
	require.True(t, list.Messages[0].HasLocation())
	require.Equal(t, "hello", list.Messages[1].Text)
}

func TestPostMessage_Offline(t *testing.T) {
	f := newFixture(t, connectivity.Offline)

	resp, body := f.post(t, `{"text":"hi"}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "not connected", body["error"])
	require.Empty(t, f.channel.Appended())
}

func TestPostMessage_Invalid(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	for _, body := range []string{
		`{"text":"   "}`,
		`{"image":"not a url"}`,
		`{"image":"https://example.com/a.png","location":{"latitude":1,"longitude":2}}`,
		`not json`,
	} {
		resp, out := f.post(t, body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		require.NotEmpty(t, out["error"], body)
	}
	require.Empty(t, f.channel.Appended())
}

func TestPostMessage_AppendFailure(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	f.channel.SetAppendError(errors.New("quota exceeded"))

	resp, body := f.post(t, `{"text":"hi"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, "quota exceeded", body["error"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	resp, err := http.Get(f.http.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, "live_synced", st.State)
	require.Equal(t, "online", st.Connectivity)
	require.Equal(t, "general", st.Room)
	require.Equal(t, "alice", st.User.Name)
	require.Equal(t, "#474056", st.Color)
}

func TestUnknownRoute_Returns404(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	resp, err := http.Get(f.http.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_PlainRequestRejected(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	resp, err := http.Get(f.http.URL + "/api/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.GreaterOrEqual(t, resp.StatusCode, 400)
	require.NotEqual(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_ReceivesCurrentSequenceOnConnect(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	require.NoError(t, f.ctrl.Submit(context.Background(), chat.TextDraft("already here")))
	require.Eventually(t, func() bool { return len(f.ctrl.Messages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var fr frame
	require.NoError(t, wsjson.Read(ctx, conn, &fr))
	require.Equal(t, "messages", fr.Type)
	require.Equal(t, "live_synced", fr.State)
	require.Len(t, fr.Messages, 1)
	require.Equal(t, "already here", fr.Messages[0].Text)
}

// sseReader yields (event, data) pairs from a stream.
type sseReader struct {
	sc *bufio.Scanner
}

func (r *sseReader) next() (string, string, bool) {
	var event, data string
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data, true
		}
	}
	return "", "", false
}

// nextOf skips events until one named want arrives.
func (r *sseReader) nextOf(t *testing.T, want string) string {
	t.Helper()
	for {
		ev, data, ok := r.next()
		require.True(t, ok, "stream ended before %q", want)
		if ev == want {
			return data
		}
	}
}

func TestSSE_StreamsMessagesAndConnectivity(t *testing.T) {
	f := newFixture(t, connectivity.Online)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := &sseReader{sc: bufio.NewScanner(resp.Body)}
	require.Contains(t, r.nextOf(t, "connected"), `"room":"general"`)

	// Whether the stream subscribes before or after this submit, it gets the
	// newest sequence: listeners receive the current one on subscription.
	require.NoError(t, f.ctrl.Submit(context.Background(), chat.TextDraft("streamed")))

	var snap messagesResponse
	require.NoError(t, json.Unmarshal([]byte(r.nextOf(t, "messages")), &snap))
	require.NotEmpty(t, snap.Messages)
	require.Equal(t, "streamed", snap.Messages[0].Text)

	f.monitor.Set(connectivity.Offline)
	var conn connectivityEvent
	require.NoError(t, json.Unmarshal([]byte(r.nextOf(t, "connectivity")), &conn))
	require.Equal(t, "offline", conn.State)
}

func TestSSE_Heartbeat(t *testing.T) {
	f := newFixture(t, connectivity.Offline)
	f.srv.heartbeat = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := &sseReader{sc: bufio.NewScanner(resp.Body)}
	require.Contains(t, r.nextOf(t, "heartbeat"), "timestamp")
}

func TestWebSocket_PushesFrames(t *testing.T) {
	f := newFixture(t, connectivity.Online)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, f.ctrl.Submit(context.Background(), chat.TextDraft("over ws")))

	for {
		var fr frame
		require.NoError(t, wsjson.Read(ctx, conn, &fr))
		if fr.Type == "messages" && len(fr.Messages) > 0 {
			require.Equal(t, "over ws", fr.Messages[0].Text)
			break
		}
	}

	f.monitor.Set(connectivity.Offline)
	for {
		var fr frame
		require.NoError(t, wsjson.Read(ctx, conn, &fr))
		if fr.Type == "connectivity" {
			require.Equal(t, "offline", fr.Connectivity.State)
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestWriteSSE(t *testing.T) {
	var b strings.Builder
	writeSSE(&b, "messages", map[string]int{"n": 1})
	require.Equal(t, "event: messages\ndata: {\"n\":1}\n\n", b.String())
}

func TestPostMessageRequest_Draft(t *testing.T) {
	d := postMessageRequest{Text: "x"}.draft()
	require.Nil(t, d.Attachment)

	d = postMessageRequest{Image: "https://example.com/i.png"}.draft()
	require.Equal(t, "https://example.com/i.png", d.Attachment.Image)
}
