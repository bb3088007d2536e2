package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
)

// callPayload is shared by all relayed call messages: a target identity
// plus the type-specific body forwarded untouched.
type callPayload struct {
	Type      string          `json:"type"`
	To        string          `json:"to"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (ctl *Controller) decodeCall(conn *WsSignalConn, data []byte) (callPayload, bool) {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call payload")
		ctl.sendError(conn, "", core.Validation("Malformed message"))
		return p, false
	}
	return p, true
}

func (ctl *Controller) handleCallUser(connID core.ConnID, conn *WsSignalConn, data []byte) {
	p, ok := ctl.decodeCall(conn, data)
	if !ok {
		return
	}
	if len(p.Offer) == 0 {
		ctl.sendError(conn, "", core.Validation("Offer required"))
		return
	}
	if err := ctl.Orch.Relay.Forward(connID, domain.Identity(p.To), core.EventIncomingCall, p.Offer); err != nil {
		ctl.sendError(conn, "", err)
	}
}

func (ctl *Controller) handleAnswerCall(connID core.ConnID, conn *WsSignalConn, data []byte) {
	p, ok := ctl.decodeCall(conn, data)
	if !ok {
		return
	}
	if len(p.Answer) == 0 {
		ctl.sendError(conn, "", core.Validation("Answer required"))
		return
	}
	if err := ctl.Orch.Relay.Forward(connID, domain.Identity(p.To), core.EventCallAnswered, p.Answer); err != nil {
		ctl.sendError(conn, "", err)
	}
}

func (ctl *Controller) handleRejectCall(connID core.ConnID, conn *WsSignalConn, data []byte) {
	p, ok := ctl.decodeCall(conn, data)
	if !ok {
		return
	}
	if err := ctl.Orch.Relay.Forward(connID, domain.Identity(p.To), core.EventCallRejected, nil); err != nil {
		ctl.sendError(conn, "", err)
	}
}

func (ctl *Controller) handleICECandidate(connID core.ConnID, conn *WsSignalConn, data []byte) {
	p, ok := ctl.decodeCall(conn, data)
	if !ok {
		return
	}
	if len(p.Candidate) == 0 {
		ctl.sendError(conn, "", core.Validation("Candidate required"))
		return
	}
	if err := ctl.Orch.Relay.Forward(connID, domain.Identity(p.To), core.EventICECandidate, p.Candidate); err != nil {
		ctl.sendError(conn, "", err)
	}
}
