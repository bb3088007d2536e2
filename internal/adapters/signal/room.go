package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/dkeye/parley/internal/media"
)

func (ctl *Controller) handleCapabilities(conn *WsSignalConn, rid string) {
	resp := struct {
		Type         string                `json:"type"`
		Rid          string                `json:"rid,omitempty"`
		Capabilities media.RTPCapabilities `json:"capabilities"`
	}{
		Type:         "rtp-capabilities",
		Rid:          rid,
		Capabilities: ctl.Orch.Rooms.Capabilities(),
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *Controller) handleJoinRoom(ctx context.Context, connID core.ConnID, conn *WsSignalConn, rid string, data []byte) {
	type joinPayload struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, rid, core.Validation("Malformed message"))
		return
	}

	info, err := ctl.Orch.Rooms.Join(ctx, connID, conn, domain.RoomID(p.RoomID))
	if err != nil {
		ctl.sendError(conn, rid, err)
		return
	}

	resp := struct {
		Type      string               `json:"type"`
		Rid       string               `json:"rid,omitempty"`
		Transport *media.TransportInfo `json:"transport"`
	}{
		Type:      "room-joined",
		Rid:       rid,
		Transport: info,
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, connID core.ConnID, conn *WsSignalConn, rid string, data []byte) {
	type connectPayload struct {
		Type        string              `json:"type"`
		TransportID string              `json:"transportId"`
		media.ConnectParams
	}
	var p connectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad connect payload")
		ctl.sendError(conn, rid, core.Validation("Malformed message"))
		return
	}
	if p.TransportID == "" {
		ctl.sendError(conn, rid, core.Validation("Transport id required"))
		return
	}

	if err := ctl.Orch.Rooms.ConnectTransport(ctx, connID, p.TransportID, p.ConnectParams); err != nil {
		ctl.sendError(conn, rid, err)
		return
	}

	resp := struct {
		Type string `json:"type"`
		Rid  string `json:"rid,omitempty"`
	}{
		Type: "transport-connected",
		Rid:  rid,
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *Controller) handleProduce(ctx context.Context, connID core.ConnID, conn *WsSignalConn, rid string, data []byte) {
	type producePayload struct {
		Type          string              `json:"type"`
		TransportID   string              `json:"transportId"`
		Kind          media.Kind          `json:"kind"`
		RTPParameters media.RTPParameters `json:"rtpParameters"`
	}
	var p producePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad produce payload")
		ctl.sendError(conn, rid, core.Validation("Malformed message"))
		return
	}
	if p.TransportID == "" {
		ctl.sendError(conn, rid, core.Validation("Transport id required"))
		return
	}

	producerID, err := ctl.Orch.Rooms.Produce(ctx, connID, p.TransportID, p.Kind, p.RTPParameters)
	if err != nil {
		ctl.sendError(conn, rid, err)
		return
	}

	resp := struct {
		Type string `json:"type"`
		Rid  string `json:"rid,omitempty"`
		ID   string `json:"id"`
	}{
		Type: "produced",
		Rid:  rid,
		ID:   producerID,
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *Controller) handleConsume(ctx context.Context, connID core.ConnID, conn *WsSignalConn, rid string, data []byte) {
	type consumePayload struct {
		Type            string                `json:"type"`
		ProducerID      string                `json:"producerId"`
		RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
	}
	var p consumePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad consume payload")
		ctl.sendError(conn, rid, core.Validation("Malformed message"))
		return
	}
	if p.ProducerID == "" {
		ctl.sendError(conn, rid, core.Validation("Producer id required"))
		return
	}

	info, err := ctl.Orch.Rooms.Consume(ctx, connID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		ctl.sendError(conn, rid, err)
		return
	}

	resp := struct {
		Type     string              `json:"type"`
		Rid      string              `json:"rid,omitempty"`
		Consumer *media.ConsumerInfo `json:"consumer"`
	}{
		Type:     "consumed",
		Rid:      rid,
		Consumer: info,
	}
	ctl.sendJSON(conn, resp)

	// Resume only after the description went out, so the client never
	// sees media from a consumer it has not recorded yet.
	ctl.Orch.Rooms.ResumeConsumer(connID, info.ID)
}

func (ctl *Controller) handleLeaveRoom(ctx context.Context, connID core.ConnID, conn *WsSignalConn, rid string) {
	ctl.Orch.Rooms.Leave(ctx, connID)
	resp := struct {
		Type string `json:"type"`
		Rid  string `json:"rid,omitempty"`
	}{
		Type: "left-room",
		Rid:  rid,
	}
	ctl.sendJSON(conn, resp)
}
