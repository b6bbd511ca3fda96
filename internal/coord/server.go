// Package coord exposes the coordination verbs workers invoke over a
// one-request-one-response HTTP RPC. The service is stateless: every verb
// operates on the durable store, and the session id rides in a header.
package coord

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// ServerConfig configures the coordination service
type ServerConfig struct {
	// Token authenticates workers; the supervisor hands it to each child
	Token string
	// TestCommand is what run_tests executes, split on whitespace
	TestCommand string
	// DefaultTestTimeout bounds run_tests when the request has none
	DefaultTestTimeout time.Duration
}

// Server handles the coordination verbs
type Server struct {
	store  *store.Store
	cfg    ServerConfig
	logger *log.Logger
}

// NewServer creates the coordination service over a store
func NewServer(s *store.Store, cfg ServerConfig, logger *log.Logger) *Server {
	if cfg.DefaultTestTimeout == 0 {
		cfg.DefaultTestTimeout = 10 * time.Minute
	}
	return &Server{store: s, cfg: cfg, logger: logger}
}

// Handler builds the chi router for the verb surface
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(srv.authenticate)

	r.Post("/v1/list_tasks", srv.handleListTasks)
	r.Post("/v1/claim_task", srv.handleClaimTask)
	r.Post("/v1/complete_task", srv.handleCompleteTask)
	r.Post("/v1/read_updates", srv.handleReadUpdates)
	r.Post("/v1/post_update", srv.handlePostUpdate)
	r.Post("/v1/get_session_status", srv.handleGetSessionStatus)
	r.Post("/v1/register_contract", srv.handleRegisterContract)
	r.Post("/v1/get_contracts", srv.handleGetContracts)
	r.Post("/v1/record_decision", srv.handleRecordDecision)
	r.Post("/v1/get_decisions", srv.handleGetDecisions)
	r.Post("/v1/run_tests", srv.handleRunTests)
	return r
}

func (srv *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if srv.cfg.Token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+srv.cfg.Token {
				writeError(w, http.StatusUnauthorized, cerrors.New(cerrors.ErrCodeBadVerbRequest, "invalid token"))
				return
			}
		}
		if r.Header.Get(SessionHeader) == "" {
			writeError(w, http.StatusBadRequest, cerrors.New(cerrors.ErrCodeBadVerbRequest, "missing session header"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionID(r *http.Request) string {
	return r.Header.Get(SessionHeader)
}

func decode[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, cerrors.Wrap(cerrors.ErrCodeBadVerbRequest, "decode request", err))
		return nil, false
	}
	return &req, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := ErrorBody{Success: false, Error: err.Error()}
	var cerr *cerrors.ConductorError
	if e, ok := err.(*cerrors.ConductorError); ok {
		cerr = e
		body.Error = cerr.Message
		body.Code = string(cerr.Code)
	}
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps verb failures onto HTTP statuses
func statusFor(err error) int {
	switch cerrors.CodeOf(err) {
	case cerrors.ErrCodeTaskNotFound:
		return http.StatusNotFound
	case cerrors.ErrCodeClaimWrongStatus, cerrors.ErrCodeClaimBlockedByDep, cerrors.ErrCodeNotTaskOwner:
		return http.StatusConflict
	case cerrors.ErrCodeBadVerbRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (srv *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[ListTasksRequest](w, r)
	if !ok {
		return
	}
	tasks, err := srv.store.ListTasks(store.TaskStatus(req.Status))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, ListTasksResponse{Tasks: tasks})
}

func (srv *Server) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[ClaimTaskRequest](w, r)
	if !ok {
		return
	}
	resp, err := Claim(srv.store, sessionID(r), req.TaskID)
	if err != nil {
		srv.logger.Debug("claim rejected", "task", req.TaskID, "session", sessionID(r), "reason", err.Error())
		writeError(w, statusFor(err), err)
		return
	}
	srv.logger.Info("task claimed", "task", req.TaskID, "session", sessionID(r))
	writeJSON(w, resp)
}

func (srv *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[CompleteTaskRequest](w, r)
	if !ok {
		return
	}
	task, err := Complete(srv.store, sessionID(r), *req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	srv.logger.Info("task completed", "task", req.TaskID, "session", sessionID(r))
	writeJSON(w, CompleteTaskResponse{Task: task})
}

func (srv *Server) handleReadUpdates(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[ReadUpdatesRequest](w, r)
	if !ok {
		return
	}
	since := time.Time{}
	if req.Since != nil {
		since = *req.Since
	}
	msgs, err := srv.store.ReadMessages(sessionID(r), since)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, ReadUpdatesResponse{Messages: msgs})
}

func (srv *Server) handlePostUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[PostUpdateRequest](w, r)
	if !ok {
		return
	}
	msg, err := srv.store.AppendMessage(&store.Message{
		From:     sessionID(r),
		To:       req.To,
		Type:     req.Type,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, PostUpdateResponse{Message: msg})
}

func (srv *Server) handleGetSessionStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[GetSessionStatusRequest](w, r)
	if !ok {
		return
	}
	status, err := srv.store.GetSessionStatus(req.SessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, GetSessionStatusResponse{Known: status != nil, Status: status})
}

func (srv *Server) handleRegisterContract(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[RegisterContractRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, cerrors.New(cerrors.ErrCodeBadVerbRequest, "contract id is required"))
		return
	}
	contract := &store.Contract{
		ID:            req.ID,
		Type:          req.Type,
		Specification: req.Specification,
		OwnerTask:     currentTaskOf(srv.store, sessionID(r)),
	}
	warnings := lintContract(contract)
	if err := srv.store.PutContract(contract); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, RegisterContractResponse{Contract: contract, Warnings: warnings})
}

func (srv *Server) handleGetContracts(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[GetContractsRequest](w, r)
	if !ok {
		return
	}
	contracts, err := srv.store.ListContracts(req.Type, req.IDSubstring)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, GetContractsResponse{Contracts: contracts})
}

func (srv *Server) handleRecordDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[RecordDecisionRequest](w, r)
	if !ok {
		return
	}
	decision, err := srv.store.AppendDecision(&store.ArchitecturalDecision{
		TaskID:    req.TaskID,
		SessionID: sessionID(r),
		Category:  req.Category,
		Decision:  req.Decision,
		Rationale: req.Rationale,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, RecordDecisionResponse{Decision: decision})
}

func (srv *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[GetDecisionsRequest](w, r)
	if !ok {
		return
	}
	decisions, err := srv.store.ListDecisions(req.Category)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, GetDecisionsResponse{Decisions: decisions})
}

func (srv *Server) handleRunTests(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[RunTestsRequest](w, r)
	if !ok {
		return
	}
	resp, err := srv.runTests(r.Context(), *req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, *resp)
}

// currentTaskOf looks up the claimer's current task for contract ownership.
// Best-effort: an unknown session just leaves the owner blank.
func currentTaskOf(s *store.Store, sessionID string) string {
	status, err := s.GetSessionStatus(sessionID)
	if err != nil || status == nil {
		return ""
	}
	return status.CurrentTask
}
