package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/connectivity"
	"github.com/plaudern/plaudern/internal/metrics"
)

// connectivityEvent is the payload of the "connectivity" stream event.
type connectivityEvent struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// frame is one WebSocket message.
type frame struct {
	Type         string             `json:"type"`
	Room         string             `json:"room,omitempty"`
	State        string             `json:"state,omitempty"`
	Messages     []chat.Message     `json:"messages,omitempty"`
	Connectivity *connectivityEvent `json:"connectivity,omitempty"`
}

// feed collects what a streaming client has not seen yet. Published
// sequences replace each other, so only the newest is kept. Callbacks never
// block the controller or the monitor.
type feed struct {
	messages     chan []chat.Message
	connectivity chan connectivity.Event
	stop         func()
}

func (s *Server) openFeed() *feed {
	f := &feed{
		messages:     make(chan []chat.Message, 1),
		connectivity: make(chan connectivity.Event, 8),
	}
	unsubMsgs := s.engine.Subscribe(func(msgs []chat.Message) {
		for {
			select {
			case f.messages <- msgs:
				return
			default:
			}
			select {
			case <-f.messages:
			default:
			}
		}
	})
	unsubConn := s.conn.Subscribe(func(ev connectivity.Event) {
		select {
		case f.connectivity <- ev:
		default:
		}
	})
	f.stop = func() {
		unsubMsgs()
		unsubConn()
	}
	return f
}

// handleSSE streams published sequences and connectivity transitions.
func (s *Server) handleSSE() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		metrics.StreamClients.WithLabelValues("sse").Inc()
		defer metrics.StreamClients.WithLabelValues("sse").Dec()

		writeSSE(c.Writer, "connected", map[string]string{
			"type": "connected",
			"room": s.engine.Room(),
		})
		c.Writer.Flush()

		f := s.openFeed()
		defer f.stop()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(s.heartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
			case msgs := <-f.messages:
				writeSSE(c.Writer, "messages", s.snapshot(msgs))
			case ev := <-f.connectivity:
				writeSSE(c.Writer, "connectivity", connectivityEvent{State: ev.To.String(), At: ev.At})
			}
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}

// serveWS pushes the same stream as JSON frames over a WebSocket. Anything
// the client sends is ignored.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, "/api/ws", "400").Inc()
		return
	}
	defer conn.CloseNow()
	defer func() {
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, "/api/ws", "101").Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, "/api/ws").Observe(time.Since(start).Seconds())
		s.log.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", http.StatusSwitchingProtocols).
			Dur("latency", time.Since(start)).Str("remote_addr", r.RemoteAddr).Msg("request completed")
	}()

	metrics.StreamClients.WithLabelValues("ws").Inc()
	defer metrics.StreamClients.WithLabelValues("ws").Dec()

	ctx := conn.CloseRead(r.Context())
	f := s.openFeed()
	defer f.stop()

	for {
		var out frame
		select {
		case <-ctx.Done():
			return
		case msgs := <-f.messages:
			snap := s.snapshot(msgs)
			out = frame{Type: "messages", Room: snap.Room, State: snap.State, Messages: snap.Messages}
		case ev := <-f.connectivity:
			out = frame{Type: "connectivity", Connectivity: &connectivityEvent{State: ev.To.String(), At: ev.At}}
		}
		if err := s.writeFrame(ctx, conn, out); err != nil {
			s.log.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, f frame) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}
