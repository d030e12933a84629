// Package httpapi is the caller-facing surface of the analysis service:
// conversation management, synchronous report generation, async run
// submission, and SSE/WebSocket progress streaming.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/analysis"
	"github.com/signalworks/propensity/internal/auth"
	"github.com/signalworks/propensity/internal/companies"
	"github.com/signalworks/propensity/internal/policy"
	"github.com/signalworks/propensity/internal/session"
	"github.com/signalworks/propensity/internal/streaming"
)

const serverName = "Propensity Score Analysis Server"

// Server wires the HTTP handlers to the run supervisor and the
// conversation store.
type Server struct {
	runner   *analysis.Runner
	sessions *session.Manager
	streams  *streaming.Manager
	policy   *policy.Engine
	logger   *zap.Logger
}

func NewServer(runner *analysis.Runner, sessions *session.Manager, streams *streaming.Manager, gate *policy.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		runner:   runner,
		sessions: sessions,
		streams:  streams,
		policy:   gate,
		logger:   logger,
	}
}

// Register mounts all API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/server-check", s.handleServerCheck)
	mux.HandleFunc("/conversations", s.handleConversations)
	mux.HandleFunc("/message-sync", s.handleMessageSync)
	mux.HandleFunc("/message", s.handleMessage)
	mux.HandleFunc("/stream/sse", s.handleSSE)
	mux.HandleFunc("/stream/ws", s.handleWS)
}

type apiResponse struct {
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data"`
}

func (s *Server) handleServerCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{
		StatusCode: http.StatusOK,
		Message:    "Server check successful. Welcome to Propensity Score Analysis Server!",
		Data: map[string]string{
			"serverName": serverName,
			"timestamp":  time.Now().UTC().Format("2006-01-02 15:04:05"),
		},
	})
}

type conversationCreateRequest struct {
	Email string `json:"email"`
}

type conversationResponse struct {
	ConversationID string    `json:"conversation_id"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
	Status         string    `json:"status"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createConversation(w, r)
	case http.MethodGet:
		s.listConversations(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		s.writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	conv, err := s.sessions.CreateConversation(r.Context(), req.Email)
	if err != nil {
		s.logger.Error("failed to create conversation", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	s.writeJSON(w, http.StatusCreated, conversationResponse{
		ConversationID: conv.ID,
		Email:          conv.Email,
		CreatedAt:      conv.CreatedAt,
		Status:         conv.Status,
	})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.sessions.ListConversations(r.Context())
	if err != nil {
		s.logger.Error("failed to list conversations", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationResponse{
			ConversationID: c.ID,
			Email:          c.Email,
			CreatedAt:      c.CreatedAt,
			Status:         c.Status,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type messageRequest struct {
	ConversationID string `json:"conversation_id"`
	UserMessage    string `json:"user_message"`
}

type propensityScore struct {
	Score           float64 `json:"score"`
	Rationale       string  `json:"rationale"`
	VisualIndicator string  `json:"visual_indicator"`
}

type businessReportResponse struct {
	CompanyName     string          `json:"company_name"`
	ReportDate      time.Time       `json:"report_date"`
	PropensityScore propensityScore `json:"propensity_score"`
	OverallSummary  string          `json:"overall_summary"`
}

const (
	successRationale = "Based on comprehensive business analysis including leadership changes, marketing signals, competitor analysis, and stock performance"
	errorRationale   = "Error occurred during analysis"
)

// handleMessageSync runs a full analysis inline and responds with the
// structured business report. Failures keep the report shape: score 0,
// error indicator, explanatory summary.
func (s *Server) handleMessageSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}

	result, err := s.runner.RunAnalysis(r.Context(), req.ConversationID, s.userID(r), req.UserMessage)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reportFromResult(result))
}

func reportFromResult(result analysis.FinalResult) businessReportResponse {
	report := businessReportResponse{
		CompanyName: companies.Normalize(result.UserQuery),
		ReportDate:  time.Now().UTC(),
		PropensityScore: propensityScore{
			Score:           result.PropensityScore,
			Rationale:       successRationale,
			VisualIndicator: result.VisualIndicator,
		},
		OverallSummary: result.Response,
	}
	if result.ScoreCategory == "Error" {
		report.CompanyName = "Error"
		report.PropensityScore.Rationale = errorRationale
	}
	return report
}

type messageResponse struct {
	RunID          string `json:"run_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Status         string `json:"status"`
}

// handleMessage submits an async run; progress and the final result are
// delivered over /stream/sse or /stream/ws using the returned run id.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}

	run, err := s.runner.Submit(r.Context(), req.ConversationID, s.userID(r), req.UserMessage)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, messageResponse{
		RunID:          run.ID,
		ConversationID: run.ConversationID,
		Status:         string(run.State),
	})
}

// decodeMessage parses and validates the shared message request, applying
// the policy gate. Writes the error response itself when it returns false.
func (s *Server) decodeMessage(w http.ResponseWriter, r *http.Request) (messageRequest, bool) {
	var req messageRequest
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		s.writeError(w, http.StatusBadRequest, "user_message is required")
		return req, false
	}

	if req.ConversationID != "" {
		if _, err := s.sessions.GetConversation(r.Context(), req.ConversationID); err != nil {
			if errors.Is(err, session.ErrConversationNotFound) {
				s.writeError(w, http.StatusNotFound, "conversation not found")
			} else {
				s.logger.Error("conversation lookup failed", zap.Error(err))
				s.writeError(w, http.StatusInternalServerError, "conversation lookup failed")
			}
			return req, false
		}
	}

	if s.policy != nil {
		user, _ := auth.GetUserContext(r.Context())
		in := policy.Input{
			Query:          req.UserMessage,
			ConversationID: req.ConversationID,
		}
		if user != nil {
			in.UserID = user.UserID
			in.Role = user.Role
		}
		decision, err := s.policy.Check(r.Context(), in)
		if err != nil {
			s.logger.Error("policy check failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "policy check failed")
			return req, false
		}
		if !decision.Allow {
			s.writeError(w, http.StatusForbidden, "submission denied: "+decision.Reason)
			return req, false
		}
	}
	return req, true
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrTooManyRuns):
		s.writeError(w, http.StatusTooManyRequests, "too many active runs, try again later")
	case errors.Is(err, analysis.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, analysis.ErrRunnerClosed):
		s.writeError(w, http.StatusServiceUnavailable, "service is shutting down")
	default:
		s.logger.Error("run submission failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "run submission failed")
	}
}

func (s *Server) userID(r *http.Request) string {
	if user, err := auth.GetUserContext(r.Context()); err == nil {
		return user.UserID
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
