package core

import (
	"encoding/json"

	"github.com/dkeye/parley/internal/domain"
)

// Server-pushed event types. Request replies are composed in the signal
// adapter; these are the events the app layer fans out on its own.
const (
	EventOnlineUsers    = "online-users"
	EventParticipantIn  = "participant-joined"
	EventParticipantOut = "participant-left"
	EventNewProducer    = "new-producer"
	EventIncomingCall   = "incoming-call"
	EventCallAnswered   = "call-answered"
	EventCallRejected   = "call-rejected"
	EventICECandidate   = "ice-candidate"
	EventError          = "error"
)

type OnlineUsersEvent struct {
	Type  string            `json:"type"`
	Users []domain.Identity `json:"users"`
}

type ParticipantJoinedEvent struct {
	Type     string          `json:"type"`
	Identity domain.Identity `json:"identity"`
}

type ParticipantLeftEvent struct {
	Type     string          `json:"type"`
	Identity domain.Identity `json:"identity"`
}

type NewProducerEvent struct {
	Type       string          `json:"type"`
	ProducerID string          `json:"producerId"`
	Identity   domain.Identity `json:"identity"`
}

// CallEvent is a relayed point-to-point signaling message; Payload is the
// sender's data forwarded unmodified.
type CallEvent struct {
	Type    string          `json:"type"`
	From    domain.Identity `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Rid   string `json:"rid,omitempty"`
	Error string `json:"error"`
}

// Encode marshals an event into a Frame. A marshal failure here is a
// programming error; callers treat a nil frame as "do not send".
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
