// Package conn implements the duplex client↔server socket described in
// spec.md §4.11 / §6.1: a transport-agnostic JSON-over-WebSocket channel
// that carries audio_chunk/end_speech inbound and the response pipeline's
// outbound messages, one connection per voice session.
//
// Grounded on pkg/provider/s2s/gemini/gemini.go's dial/read-loop/write
// idiom over github.com/coder/websocket, generalized from a client dialing
// out to a provider into a server accepting inbound client connections:
// the read loop, JSON discriminator dispatch, and idempotent Close here
// mirror that file's receiveLoop/handleServerMessage/Close almost
// one-for-one, with websocket.Accept in place of websocket.Dial and an
// http.ServeMux endpoint (in the style of pkg/audio/webrtc/signaling.go's
// Handler()) in place of a Provider.Connect call.
package conn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/glyphoxa/internal/pipeline"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/coder/websocket"
)

// SessionFactory builds the session and its input pipeline for a newly
// accepted connection. sink is ready to enqueue outbound messages; the
// factory must wire it into the Session's Deps (typically via
// pipeline.StreamRunner/BatchRunner) and return the Session with an
// InputPipeline attached (Session.AttachPipeline) whose ReadyFunc is the
// Session's HandleUtterance.
type SessionFactory func(id string, sink *pipeline.Sink) *session.Session

// Server accepts inbound WebSocket connections and adapts each one to a
// voice Session.
type Server struct {
	// NewSession constructs a Session (with its InputPipeline already
	// attached via Session.AttachPipeline) for a freshly accepted
	// connection.
	NewSession SessionFactory

	// AcceptOptions is passed through to websocket.Accept. Nil uses the
	// library's defaults.
	AcceptOptions *websocket.AcceptOptions

	// SendQueueCapacity sizes each connection's outbound Sink. <= 0 uses
	// the Sink's own default.
	SendQueueCapacity int

	nextID atomic.Uint64
}

// Handler returns an http.Handler serving the WebSocket upgrade endpoint.
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", srv.handleWS)
	return mux
}

func (srv *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, srv.AcceptOptions)
	if err != nil {
		slog.Warn("conn: accept failed", "error", err)
		return
	}

	id := fmt.Sprintf("conn-%d", srv.nextID.Add(1))
	ctx, cancel := context.WithCancel(r.Context())
	c := &connection{id: id, ws: ws, ctx: ctx, cancel: cancel}
	c.sink = pipeline.NewSink(c.writeJSON, srv.SendQueueCapacity)

	sess := srv.NewSession(id, c.sink)
	c.pipeline = sess.Pipeline()
	if c.pipeline == nil {
		slog.Error("conn: session returned with no InputPipeline attached", "connection_id", id)
		c.close(websocket.StatusInternalError, "session misconfigured")
		return
	}

	slog.Info("conn: connection accepted", "connection_id", id)
	c.run()
}

// inboundMessage is the client→server envelope; only audio_chunk and
// end_speech are defined by spec.md §6.1.
type inboundMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// connection owns one accepted WebSocket and the Session/InputPipeline it
// feeds. Close is idempotent: the read loop's own exit and an external
// caller (e.g. a server shutdown) can both call it safely.
type connection struct {
	id       string
	ws       *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	sink     *pipeline.Sink
	pipeline *session.InputPipeline

	closeOnce sync.Once
}

// run blocks for the lifetime of the connection, driving the read loop,
// then tears everything down.
func (c *connection) run() {
	c.readLoop()
	c.close(websocket.StatusNormalClosure, "connection closed")
}

// readLoop reads frames until the client disconnects or the context is
// cancelled, dispatching each by its type discriminator.
func (c *connection) readLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			slog.Info("conn: read loop ending", "connection_id", c.id, "error", err)
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("conn: malformed inbound frame", "connection_id", c.id, "error", err)
			continue
		}

		switch msg.Type {
		case "audio_chunk":
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				slog.Warn("conn: audio_chunk with invalid base64", "connection_id", c.id, "error", err)
				continue
			}
			c.pipeline.AudioChunk(pcm)
		case "end_speech":
			c.pipeline.EndSpeech(c.ctx)
		default:
			slog.Warn("conn: unrecognized inbound message type", "connection_id", c.id, "type", msg.Type)
		}
	}
}

// writeJSON is the connection's Sink.send: it marshals an outbound message
// and writes it as a single WebSocket text frame.
func (c *connection) writeJSON(msg pipeline.OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("conn: marshal: %w", err)
	}
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

// close tears the connection down once: it stops the input pipeline first
// (waiting out any in-flight transcription or debounce firing) so no
// stray onReady call can enqueue onto the sink after it closes, then
// drains and closes the sink, then cancels the read loop's context and
// closes the socket.
func (c *connection) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		if c.pipeline != nil {
			c.pipeline.Stop()
		}
		c.sink.Close()
		c.cancel()
		_ = c.ws.Close(code, reason)
		slog.Info("conn: connection closed", "connection_id", c.id, "reason", reason)
	})
}
