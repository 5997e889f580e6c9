package types

// VoiceParticipant is the state of one user inside one voice room. A user is
// a participant of at most one room at a time.
type VoiceParticipant struct {
	UserId   int64  `json:"user_id"`
	Username string `json:"username"`
	Muted    bool   `json:"muted"`
	Video    bool   `json:"video"`
	Speaking bool   `json:"speaking"`
}
