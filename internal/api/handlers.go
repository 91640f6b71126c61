package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"openideax/collab/internal/assistant"
	"openideax/collab/internal/config"
	"openideax/collab/internal/prompts"
	"openideax/collab/internal/session"
	"openideax/collab/internal/utils"
)

type Handlers struct {
	log       *zap.Logger
	cfg       *config.Config
	hub       *session.Hub
	gateway   *session.Gateway
	assistant *assistant.Assistant
	prompts   *prompts.PromptManager
	upgrader  websocket.Upgrader
}

func NewHandlers(log *zap.Logger, cfg *config.Config, gateway *session.Gateway, ai *assistant.Assistant, pm *prompts.PromptManager) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handlers{
		log:       log,
		cfg:       cfg,
		hub:       gateway.Hub(),
		gateway:   gateway,
		assistant: ai,
		prompts:   pm,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

type ReadinessCheck struct {
	Status  string `json:"status"` // "ok" | "failed"
	Message string `json:"message,omitempty"`
}

type ReadinessResponse struct {
	Status  string                    `json:"status"` // "ready" | "not_ready"
	Service string                    `json:"service"`
	Checks  map[string]ReadinessCheck `json:"checks"`
}

func (h *Handlers) Readyz(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]ReadinessCheck{
		"provider":       {Status: "ok"},
		"prompt_manager": {Status: "ok"},
		"config":         {Status: "ok"},
	}
	ready := true

	if h.assistant == nil {
		checks["provider"] = ReadinessCheck{Status: "failed", Message: "AI provider not initialized"}
		ready = false
	} else {
		checks["provider"] = ReadinessCheck{Status: "ok", Message: h.assistant.ProviderName()}
	}
	if h.prompts == nil || len(h.prompts.GetTemplates()) == 0 {
		checks["prompt_manager"] = ReadinessCheck{Status: "failed", Message: "No prompt templates loaded"}
		ready = false
	}
	if h.cfg == nil {
		checks["config"] = ReadinessCheck{Status: "failed", Message: "Configuration not loaded"}
		ready = false
	}

	resp := ReadinessResponse{Status: "ready", Service: "collab", Checks: checks}
	status := http.StatusOK
	if !ready {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	utils.JSON(w, status, resp)
}

/*** Collab WebSocket: rooms, presence, chat and the shared blueprint ***/

func (h *Handlers) CollabWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	buffer := 0
	if h.cfg != nil {
		buffer = h.cfg.SendBuffer
	}
	client := session.NewClient(conn, buffer)
	h.gateway.Accept(client)
	defer h.gateway.Close(client)

	go client.WritePump()

	err = client.ReadPump(func(raw []byte) {
		_ = h.gateway.Receive(client, raw)
	})
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.log.Debug("websocket closed", zap.String("connection_id", client.ID), zap.Error(err))
	}
}

func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg == nil {
		return true
	}
	for _, allowed := range h.cfg.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

/*** Room inspection ***/

func (h *Handlers) ListRooms(w http.ResponseWriter, _ *http.Request) {
	utils.JSON(w, http.StatusOK, h.hub.Rooms())
}

func (h *Handlers) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	room, ok := h.hub.Get(roomID)
	if !ok {
		utils.Error(w, http.StatusNotFound, "room_not_found", "room "+roomID+" does not exist")
		return
	}
	utils.JSON(w, http.StatusOK, room.Snapshot())
}

/*** AI ***/

func (h *Handlers) ListPersonas(w http.ResponseWriter, _ *http.Request) {
	utils.JSON(w, http.StatusOK, h.assistant.Personas())
}

func (h *Handlers) Synthesize(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	msg, err := h.assistant.Synthesize(r.Context(), roomID)
	switch {
	case errors.Is(err, session.ErrRoomNotFound):
		utils.Error(w, http.StatusNotFound, "room_not_found", "room "+roomID+" does not exist")
	case err != nil:
		h.log.Error("synthesis failed", zap.String("room_id", roomID), zap.Error(err))
		utils.Error(w, http.StatusInternalServerError, "synthesis_failed", "could not synthesize ideas")
	default:
		utils.JSON(w, http.StatusOK, msg)
	}
}
