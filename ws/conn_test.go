package ws

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var errReadTimeout = errors.New("fake conn: read timeout")

// fakeConn is an in-memory Conn for session and registry tests. Inbound
// frames are scripted through push, outbound text frames are recorded, and
// the read side honors deadlines so handshake timeouts are testable.
type fakeConn struct {
	inbound  chan []byte
	closedCh chan struct{}

	mu           sync.Mutex
	written      [][]byte
	closeCode    int
	pings        int
	failWrites   bool
	readDeadline time.Time
	closeOnce    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:   make(chan []byte, 32),
		closedCh:  make(chan struct{}),
		closeCode: -1,
	}
}

func (f *fakeConn) push(frame string) {
	f.inbound <- []byte(frame)
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	// drain scripted frames before noticing closure or deadlines
	select {
	case frame := <-f.inbound:
		return websocket.TextMessage, frame, nil
	default:
	}

	f.mu.Lock()
	deadline := f.readDeadline
	f.mu.Unlock()
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timeout = time.After(time.Until(deadline))
	}

	select {
	case frame := <-f.inbound:
		return websocket.TextMessage, frame, nil
	case <-f.closedCh:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "closed"}
	case <-timeout:
		return 0, nil, errReadTimeout
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("fake conn: write refused")
	}
	switch messageType {
	case websocket.TextMessage:
		frame := make([]byte, len(data))
		copy(frame, data)
		f.written = append(f.written, frame)
	case websocket.CloseMessage:
		if len(data) >= 2 {
			f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		}
	case websocket.PingMessage:
		f.pings++
	}
	return nil
}

func (f *fakeConn) SetReadLimit(int64) {}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.readDeadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closedCh) })
	return nil
}

func (f *fakeConn) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := make([][]byte, len(f.written))
	copy(frames, f.written)
	return frames
}

func (f *fakeConn) events(t *testing.T) []map[string]interface{} {
	t.Helper()
	frames := f.frames()
	events := make([]map[string]interface{}, 0, len(frames))
	for _, frame := range frames {
		var ev map[string]interface{}
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("recorded frame is not JSON: %s", frame)
		}
		events = append(events, ev)
	}
	return events
}

func (f *fakeConn) eventsOfType(t *testing.T, eventType string) []map[string]interface{} {
	t.Helper()
	var matched []map[string]interface{}
	for _, ev := range f.events(t) {
		if ev["type"] == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

func (f *fakeConn) sentCloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}
