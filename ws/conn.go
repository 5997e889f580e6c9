package ws

import "time"

// Close codes beyond the RFC range. Handshake failures get their own code so
// clients can tell "re-authenticate" apart from ordinary closure.
const (
	CloseHandshakeFailed = 4001
)

// Conn is the slice of *websocket.Conn the engine uses. Tests substitute
// in-memory fakes; production always passes a gorilla connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}
