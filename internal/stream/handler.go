package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calltap/calltap/internal/media"
	"github.com/calltap/calltap/internal/playback"
)

var (
	// ErrConnectionRejected is returned when a second media connection
	// arrives while one is already being served.
	ErrConnectionRejected = errors.New("media stream already active")

	// ErrFormatMismatch is returned when the stream's declared media
	// format does not match the expected codec.
	ErrFormatMismatch = errors.New("stream format mismatch")
)

// statsInterval is how many media frames pass between stats log lines.
const statsInterval = 50

// Controller receives stream lifecycle notifications.
type Controller interface {
	OnStreamOpen() error
	OnStreamConnected(streamSID string)
	OnStreamClosed(reason string)
}

// Handler accepts a single inbound media stream over WebSocket,
// validates its format and hands decoded-order frames to the playback
// buffer. Only one connection is served at a time.
type Handler struct {
	codec    media.Codec
	buf      *playback.Buffer
	ctrl     Controller
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conn   *websocket.Conn
	active bool
}

func NewHandler(codec media.Codec, buf *playback.Buffer, ctrl Controller) *Handler {
	return &Handler{
		codec: codec,
		buf:   buf,
		ctrl:  ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Media providers connect from their own infrastructure.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and runs the read loop until the stream
// ends. A concurrent second connection is rejected with 409 before the
// upgrade.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) error {
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		slog.Warn("[Stream] Rejecting connection, stream already active", "remote", r.RemoteAddr)
		http.Error(w, "media stream already active", http.StatusConflict)
		return ErrConnectionRejected
	}
	h.active = true
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.release(nil)
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	if err := h.ctrl.OnStreamOpen(); err != nil {
		slog.Warn("[Stream] Connection refused by session", "error", err)
		conn.Close()
		h.release(conn)
		return err
	}

	slog.Info("[Stream] Connection established", "remote", conn.RemoteAddr().String())

	reason, err := h.readLoop(conn)

	conn.Close()
	h.release(conn)
	h.ctrl.OnStreamClosed(reason)
	return err
}

func (h *Handler) release(conn *websocket.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.active = false
	h.mu.Unlock()
}

// readLoop consumes messages until the stream ends and returns the
// close reason, plus ErrFormatMismatch when the stream was aborted for
// a bad format. Malformed individual messages are logged and skipped;
// only a format mismatch or transport error terminates the stream.
func (h *Handler) readLoop(conn *websocket.Conn) (string, error) {
	tracker := media.NewSequenceTracker()
	var frames uint64

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "connection closed", nil
			}
			return fmt.Sprintf("read error: %v", err), nil
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("[Stream] Discarding malformed message", "error", err)
			continue
		}

		switch msg.Event {
		case "connected":
			slog.Info("[Stream] Provider connected", "protocol", msg.Protocol, "version", msg.Version)

		case "start":
			if msg.Start == nil {
				slog.Warn("[Stream] Start event missing body")
				continue
			}
			mf := msg.Start.MediaFormat
			if !h.codec.Matches(mf.Encoding, mf.SampleRate, mf.Channels) {
				slog.Error("[Stream] Media format mismatch, aborting stream",
					"encoding", mf.Encoding,
					"sample_rate", mf.SampleRate,
					"channels", mf.Channels,
					"expected", h.codec.Encoding)
				err := fmt.Errorf("%w: got %s/%dHz/%dch", ErrFormatMismatch, mf.Encoding, mf.SampleRate, mf.Channels)
				return err.Error(), err
			}
			slog.Info("[Stream] Stream started",
				"stream_sid", msg.Start.StreamSID,
				"call_sid", msg.Start.CallSID,
				"tracks", msg.Start.Tracks)
			h.ctrl.OnStreamConnected(msg.Start.StreamSID)

		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				slog.Warn("[Stream] Media event missing payload")
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				slog.Warn("[Stream] Discarding undecodable payload", "error", err)
				continue
			}
			seq, _ := strconv.ParseUint(msg.SequenceNumber, 10, 64)
			tsMillis, _ := strconv.ParseInt(msg.Media.Timestamp, 10, 64)

			gap, outOfOrder := tracker.Update(seq)
			if gap > 0 {
				slog.Warn("[Stream] Sequence gap detected", "seq", seq, "missing", gap)
			}
			if outOfOrder {
				slog.Debug("[Stream] Out-of-order frame forwarded", "seq", seq)
			}

			h.buf.Push(media.Frame{
				Seq:       seq,
				Timestamp: time.Duration(tsMillis) * time.Millisecond,
				Payload:   payload,
			})

			frames++
			if frames%statsInterval == 0 {
				received, lost, reordered := tracker.Stats()
				slog.Info("[Stream] Media stats",
					"received", received,
					"lost", lost,
					"reordered", reordered,
					"buffered", h.buf.Len(),
					"dropped", h.buf.Dropped())
			}

		case "stop":
			if msg.Stop != nil {
				slog.Info("[Stream] Stream stopped", "call_sid", msg.Stop.CallSID)
			} else {
				slog.Info("[Stream] Stream stopped")
			}
			return "stream stopped", nil

		default:
			slog.Debug("[Stream] Ignoring unknown event", "event", msg.Event)
		}
	}
}

// CloseActive closes the active connection if any. Used during
// shutdown; the read loop notices the close and finishes normally.
func (h *Handler) CloseActive() {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
