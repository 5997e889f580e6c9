package types

import (
	"bytes"
	"encoding/json"

	"github.com/mitchellh/mapstructure"
)

// Wire names of the events clients send. Anything else is dropped.
const (
	WireAuth             = "auth"
	WireTyping           = "user.typing"
	WireHeartbeat        = "presence.heartbeat"
	WireVoiceJoin        = "voice.join"
	WireVoiceLeave       = "voice.leave"
	WireVoiceStateUpdate = "voice.state_update"
	WireVoiceOffer       = "voice.offer"
	WireVoiceAnswer      = "voice.answer"
	WireVoiceCandidate   = "voice.ice_candidate"
	WireVoiceHeartbeat   = "voice.heartbeat"
)

// EventKind enumerates the closed set of inbound events. The dispatcher
// switches exhaustively over it; EventUnknown stands in for every frame a
// newer client generation might send.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventAuth
	EventTyping
	EventHeartbeat
	EventVoiceJoin
	EventVoiceLeave
	EventVoiceStateUpdate
	EventVoiceOffer
	EventVoiceAnswer
	EventVoiceCandidate
	EventVoiceHeartbeat
)

// AuthFrame must be the first frame on every connection.
type AuthFrame struct {
	Token string `mapstructure:"token"`
}

type VoiceJoinFrame struct {
	Muted bool `mapstructure:"muted"`
	Video bool `mapstructure:"video"`
}

type VoiceStateFrame struct {
	Muted    bool `mapstructure:"muted"`
	Video    bool `mapstructure:"video"`
	Speaking bool `mapstructure:"speaking"`
}

// SignalFrame is a relayed call-setup message. Payload is carried through
// uninspected; TargetOk is false when target_user_id is missing or not an
// integer, in which case the frame is silently dropped.
type SignalFrame struct {
	Target   int64
	TargetOk bool
	Payload  interface{}
}

// Inbound is one decoded client frame, a tagged variant keyed by Kind.
type Inbound struct {
	Kind EventKind

	Auth       *AuthFrame
	VoiceJoin  *VoiceJoinFrame
	VoiceState *VoiceStateFrame
	Signal     *SignalFrame
}

// ParseInbound decodes a raw frame into the closed event set. A frame that
// is not a JSON object, carries no type, or carries an unrecognized type
// yields Kind == EventUnknown and a nil error; a decode error on a
// recognized type is reported so the caller can log it.
func ParseInbound(raw []byte) (*Inbound, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	frame := make(map[string]interface{})
	if err := dec.Decode(&frame); err != nil {
		return &Inbound{Kind: EventUnknown}, nil
	}
	typ, _ := frame["type"].(string)
	switch typ {
	case WireAuth:
		auth := &AuthFrame{}
		if err := mapstructure.WeakDecode(frame, auth); err != nil {
			return nil, err
		}
		return &Inbound{Kind: EventAuth, Auth: auth}, nil

	case WireTyping:
		return &Inbound{Kind: EventTyping}, nil

	case WireHeartbeat:
		return &Inbound{Kind: EventHeartbeat}, nil

	case WireVoiceJoin:
		join := &VoiceJoinFrame{}
		if err := mapstructure.WeakDecode(frame, join); err != nil {
			return nil, err
		}
		return &Inbound{Kind: EventVoiceJoin, VoiceJoin: join}, nil

	case WireVoiceLeave:
		return &Inbound{Kind: EventVoiceLeave}, nil

	case WireVoiceStateUpdate:
		state := &VoiceStateFrame{}
		if err := mapstructure.WeakDecode(frame, state); err != nil {
			return nil, err
		}
		return &Inbound{Kind: EventVoiceStateUpdate, VoiceState: state}, nil

	case WireVoiceOffer:
		return &Inbound{Kind: EventVoiceOffer, Signal: signalFrame(frame, "sdp")}, nil

	case WireVoiceAnswer:
		return &Inbound{Kind: EventVoiceAnswer, Signal: signalFrame(frame, "sdp")}, nil

	case WireVoiceCandidate:
		return &Inbound{Kind: EventVoiceCandidate, Signal: signalFrame(frame, "candidate")}, nil

	case WireVoiceHeartbeat:
		return &Inbound{Kind: EventVoiceHeartbeat}, nil
	}
	return &Inbound{Kind: EventUnknown}, nil
}

// signalFrame extracts the relay target and the opaque payload. The target
// must be a JSON integer; a string or fractional number does not qualify and
// leaves TargetOk false.
func signalFrame(frame map[string]interface{}, payloadKey string) *SignalFrame {
	sf := &SignalFrame{Payload: frame[payloadKey]}
	num, ok := frame["target_user_id"].(json.Number)
	if !ok {
		return sf
	}
	target, err := num.Int64()
	if err != nil {
		return sf
	}
	sf.Target = target
	sf.TargetOk = true
	return sf
}
