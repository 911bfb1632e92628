package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/martinemde/termagent/agentloop"
	"github.com/martinemde/termagent/shell"
)

const maxBodyBytes = 1 << 20

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=128,printascii"`
}

type chatResponse struct {
	Response       string `json:"response"`
	Success        bool   `json:"success"`
	ConversationID string `json:"conversation_id"`
	Error          string `json:"error,omitempty"`
}

type clearRequest struct {
	ConversationID string `json:"conversation_id" validate:"omitempty,max=128,printascii"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Success *bool  `json:"success,omitempty"`
}

type shellStatus struct {
	shell.Status
	Uptime string `json:"uptime,omitempty"`
}

type statusResponse struct {
	Status        string          `json:"status"`
	Message       string          `json:"message"`
	Components    map[string]bool `json:"components"`
	Shell         shellStatus     `json:"shell"`
	Conversations int             `json:"conversations"`
	Budget        int             `json:"recursion_limit"`
	Uptime        string          `json:"uptime"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	reply, err := s.agent.Chat(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		s.logger.Error("chat failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error", Success: new(bool)})
		return
	}

	resp := chatResponse{
		Response:       reply.Text,
		Success:        true,
		ConversationID: reply.ConversationID,
	}
	status := http.StatusOK
	switch reply.Outcome {
	case agentloop.OutcomeUnavailable:
		resp.Success, resp.Error, status = false, reply.Text, http.StatusServiceUnavailable
	case agentloop.OutcomeDecisionFailed:
		resp.Success, resp.Error, status = false, reply.Text, http.StatusBadGateway
	}
	s.logger.Info("chat processed",
		zap.String("conversation_id", reply.ConversationID),
		zap.String("outcome", string(reply.Outcome)),
		zap.Int("steps", reply.Steps))
	writeJSON(w, status, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for ev := range s.agent.Stream(r.Context(), req.ConversationID, req.Message) {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("encode event", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.logger.Info("stream client gone", zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.logger.Info("stream flush failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid conversation_id"})
		return
	}

	if req.ConversationID == "" {
		s.agent.ClearAll()
	} else {
		s.agent.Clear(req.ConversationID)
	}
	s.logger.Info("conversation history cleared", zap.String("conversation_id", req.ConversationID))
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Conversation history cleared"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	agentStatus := s.agent.Status()
	sh := shellStatus{Status: s.shell.Status()}
	if !sh.StartedAt.IsZero() {
		sh.Uptime = humanize.Time(sh.StartedAt)
	}

	provider := s.opts.Provider
	if provider == "" {
		provider = "no provider"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "running",
		Message: fmt.Sprintf("Terminal Agent API is running (%s)", provider),
		Components: map[string]bool{
			"shell":           sh.Alive,
			"decision_engine": agentStatus.DecisionEngineAvailable,
			"agent":           true,
		},
		Shell:         sh,
		Conversations: len(agentStatus.Conversations),
		Budget:        agentStatus.Budget,
		Uptime:        humanize.Time(s.started),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	if err := s.shell.Restart(); err != nil {
		s.logger.Error("shell restart failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to restart shell session", Success: new(bool)})
		return
	}
	s.logger.Info("shell session restarted", zap.Int("pid", s.shell.Status().PID))
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Shell session restarted"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "Endpoint not found"})
}

// decodeChat reads and validates a chat body, writing a 400 on failure.
func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No JSON data provided"})
		return req, false
	}
	if msg := s.validateChat(req); msg != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return req, false
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	return req, true
}

func (s *Server) validateChat(req chatRequest) string {
	err := s.validate.Var(req.Message, fmt.Sprintf("required,notblank,max=%d", s.opts.MaxMessageLength))
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if verrs[0].Tag() == "max" {
			return "Message too long"
		}
		return "No message provided"
	}
	if err := s.validate.Struct(req); err != nil {
		return "Invalid conversation_id"
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
