package stream

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calltap/calltap/internal/media"
	"github.com/calltap/calltap/internal/playback"
)

type fakeController struct {
	mu          sync.Mutex
	openCalls   int
	openErr     error
	streamSID   string
	connected   int
	closeReason string
	closed      int
}

func (f *fakeController) OnStreamOpen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	return f.openErr
}

func (f *fakeController) OnStreamConnected(sid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected++
	f.streamSID = sid
}

func (f *fakeController) OnStreamClosed(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.closeReason = reason
}

type ctrlSnapshot struct {
	openCalls   int
	streamSID   string
	connected   int
	closeReason string
	closed      int
}

func (f *fakeController) snapshot() ctrlSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ctrlSnapshot{
		openCalls:   f.openCalls,
		streamSID:   f.streamSID,
		connected:   f.connected,
		closeReason: f.closeReason,
		closed:      f.closed,
	}
}

func newTestHandler(bufCap int) (*Handler, *playback.Buffer, *fakeController) {
	buf := playback.NewBuffer(bufCap, 10*time.Millisecond)
	ctrl := &fakeController{}
	h := NewHandler(media.CodecPCMU8K, buf, ctrl)
	return h, buf, ctrl
}

func dialTest(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func startJSON(encoding string, rate, channels int) string {
	return fmt.Sprintf(`{"event":"start","sequenceNumber":"1","streamSid":"MZtest123",
		"start":{"streamSid":"MZtest123","callSid":"CAtest456","tracks":["inbound"],
		"mediaFormat":{"encoding":%q,"sampleRate":%d,"channels":%d}}}`, encoding, rate, channels)
}

func mediaJSON(seq uint64, payload []byte) string {
	return fmt.Sprintf(`{"event":"media","sequenceNumber":"%d",
		"media":{"track":"inbound","chunk":"%d","timestamp":"%d","payload":%q}}`,
		seq, seq, seq*20, base64.StdEncoding.EncodeToString(payload))
}

func ulawFrame(fill byte) []byte {
	p := make([]byte, media.CodecPCMU8K.BytesPerFrame())
	for i := range p {
		p[i] = fill
	}
	return p
}

func waitClosed(t *testing.T, ctrl *fakeController) ctrlSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := ctrl.snapshot(); s.closed > 0 {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("stream never closed")
	return ctrlSnapshot{}
}

func TestHandlerHappyPath(t *testing.T) {
	h, buf, ctrl := newTestHandler(100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r)
	}))
	defer srv.Close()

	conn := dialTest(t, srv)
	defer conn.Close()

	msgs := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		startJSON("audio/x-mulaw", 8000, 1),
	}
	for i := uint64(1); i <= 50; i++ {
		msgs = append(msgs, mediaJSON(i, ulawFrame(byte(i))))
	}
	msgs = append(msgs, `{"event":"stop","sequenceNumber":"52","stop":{"callSid":"CAtest456"}}`)

	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	s := waitClosed(t, ctrl)
	if s.openCalls != 1 {
		t.Errorf("OnStreamOpen calls = %d, want 1", s.openCalls)
	}
	if s.connected != 1 || s.streamSID != "MZtest123" {
		t.Errorf("connected = %d sid = %q, want 1/MZtest123", s.connected, s.streamSID)
	}
	if s.closed != 1 || s.closeReason != "stream stopped" {
		t.Errorf("closed = %d reason = %q", s.closed, s.closeReason)
	}
	if buf.Len() != 50 {
		t.Fatalf("buffered frames = %d, want 50", buf.Len())
	}
	for i := uint64(1); i <= 50; i++ {
		f, ok := buf.Pop(0)
		if !ok {
			t.Fatalf("frame %d missing", i)
		}
		if f.Seq != i {
			t.Errorf("frame order broken: got seq %d, want %d", f.Seq, i)
		}
		if len(f.Payload) != media.CodecPCMU8K.BytesPerFrame() {
			t.Errorf("frame %d payload = %d bytes", i, len(f.Payload))
		}
	}
}

func TestHandlerFormatMismatchAbortsStream(t *testing.T) {
	h, buf, ctrl := newTestHandler(10)
	errCh := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errCh <- h.ServeWS(w, r)
	}))
	defer srv.Close()

	conn := dialTest(t, srv)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(startJSON("audio/l16", 16000, 2))); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	s := waitClosed(t, ctrl)
	if s.connected != 0 {
		t.Error("OnStreamConnected called despite format mismatch")
	}
	if !strings.Contains(s.closeReason, "format mismatch") {
		t.Errorf("close reason = %q, want format mismatch", s.closeReason)
	}
	if buf.Len() != 0 {
		t.Errorf("buffer has %d frames after aborted stream", buf.Len())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrFormatMismatch) {
			t.Errorf("ServeWS error = %v, want ErrFormatMismatch", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeWS never returned")
	}
}

func TestHandlerSequenceGapForwardsFrames(t *testing.T) {
	h, buf, ctrl := newTestHandler(10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r)
	}))
	defer srv.Close()

	conn := dialTest(t, srv)

	msgs := []string{startJSON("audio/x-mulaw", 8000, 1)}
	for _, seq := range []uint64{1, 2, 4, 5} {
		msgs = append(msgs, mediaJSON(seq, ulawFrame(byte(seq))))
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	s := waitClosed(t, ctrl)
	if s.closeReason != "connection closed" {
		t.Errorf("close reason = %q", s.closeReason)
	}
	// Missing seq 3 is logged, never substituted or reordered here.
	if buf.Len() != 4 {
		t.Fatalf("buffered frames = %d, want 4", buf.Len())
	}
	want := []uint64{1, 2, 4, 5}
	for _, w := range want {
		f, _ := buf.Pop(0)
		if f.Seq != w {
			t.Errorf("got seq %d, want %d", f.Seq, w)
		}
	}
}

func TestHandlerSecondConnectionRejected(t *testing.T) {
	h, _, ctrl := newTestHandler(10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r)
	}))
	defer srv.Close()

	first := dialTest(t, srv)
	defer first.Close()

	// Give the server goroutine time to mark the stream active.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ctrl.snapshot().openCalls > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("second connection accepted, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("second connection status = %v, want 409", resp)
	}
}

func TestHandlerMalformedMessagesSkipped(t *testing.T) {
	h, buf, ctrl := newTestHandler(10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r)
	}))
	defer srv.Close()

	conn := dialTest(t, srv)
	defer conn.Close()

	msgs := []string{
		startJSON("audio/x-mulaw", 8000, 1),
		`{not json at all`,
		`{"event":"mark","sequenceNumber":"2"}`,
		`{"event":"media","sequenceNumber":"3","media":{"payload":"!!!not-base64!!!"}}`,
		mediaJSON(4, ulawFrame(0x42)),
		`{"event":"stop","sequenceNumber":"5"}`,
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	s := waitClosed(t, ctrl)
	if s.closeReason != "stream stopped" {
		t.Errorf("close reason = %q", s.closeReason)
	}
	if buf.Len() != 1 {
		t.Fatalf("buffered frames = %d, want 1", buf.Len())
	}
	f, _ := buf.Pop(0)
	if f.Seq != 4 {
		t.Errorf("got seq %d, want 4", f.Seq)
	}
}

func TestHandlerControllerRefusal(t *testing.T) {
	h, _, ctrl := newTestHandler(10)
	ctrl.openErr = fmt.Errorf("session not expecting a stream")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r)
	}))
	defer srv.Close()

	conn := dialTest(t, srv)
	defer conn.Close()

	// The server closes the socket without serving media.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}
	s := ctrl.snapshot()
	if s.closed != 0 {
		t.Error("OnStreamClosed called for a refused connection")
	}

	// The slot is freed for the next attempt.
	ctrl.mu.Lock()
	ctrl.openErr = nil
	ctrl.mu.Unlock()
	second := dialTest(t, srv)
	defer second.Close()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ctrl.snapshot().openCalls >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("handler never accepted a new connection after refusal")
}
