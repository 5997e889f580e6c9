package types

// User is the identity resolved by the auth collaborator at handshake time.
// It is immutable for the lifetime of a connection.
type User struct {
	Id       int64  `json:"id"`
	Username string `json:"username"`
}

// Status is a presence status as stored in the ephemeral store. Offline is
// never stored: it is the absence of a record.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusDnd     Status = "dnd"
	StatusOffline Status = "offline"
)

// Storable reports whether the status may be written to the store.
func (s Status) Storable() bool {
	switch s {
	case StatusOnline, StatusAway, StatusDnd:
		return true
	}
	return false
}
