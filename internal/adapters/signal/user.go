package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
)

func (ctl *Controller) handleLogin(connID core.ConnID, conn *WsSignalConn, data []byte) {
	type loginPayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var p loginPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad login payload")
		ctl.sendError(conn, "", core.Validation("Malformed message"))
		return
	}

	if !ctl.limiter.Allow(conn.token) {
		ctl.sendError(conn, "", core.Validation("Too many login attempts"))
		return
	}

	if err := ctl.Orch.Login(connID, conn, domain.Identity(p.Name)); err != nil {
		ctl.sendError(conn, "", err)
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(connID)).
		Str("identity", p.Name).Msg("login")
}
