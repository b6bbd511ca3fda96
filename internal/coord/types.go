package coord

import (
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// Wire shapes for the coordination verbs. Every verb is one POST with a
// JSON body and a JSON reply; the session id rides in a header.

// SessionHeader carries the caller's session id on every request
const SessionHeader = "X-Conductor-Session"

// ListTasksRequest filters the task list
type ListTasksRequest struct {
	Status string `json:"status,omitempty"`
}

// ListTasksResponse returns tasks ordered by id
type ListTasksResponse struct {
	Tasks []*store.Task `json:"tasks"`
}

// ClaimTaskRequest names the task to claim
type ClaimTaskRequest struct {
	TaskID string `json:"task_id"`
}

// DependencyContext summarizes one completed dependency for the claimer
type DependencyContext struct {
	TaskID        string   `json:"task_id"`
	Subject       string   `json:"subject"`
	ResultSummary string   `json:"result_summary,omitempty"`
	FilesChanged  []string `json:"files_changed,omitempty"`
}

// SiblingInfo identifies another in-flight task
type SiblingInfo struct {
	TaskID  string `json:"task_id"`
	Subject string `json:"subject"`
	Owner   string `json:"owner"`
}

// ClaimTaskResponse is the successful claim payload: the task plus
// everything the worker needs to start without further round trips.
type ClaimTaskResponse struct {
	Task               *store.Task                    `json:"task"`
	DependencyContext  []DependencyContext            `json:"dependency_context,omitempty"`
	InProgressSiblings []SiblingInfo                  `json:"in_progress_siblings,omitempty"`
	Contracts          []*store.Contract              `json:"contracts,omitempty"`
	Decisions          []*store.ArchitecturalDecision `json:"decisions,omitempty"`
	Warnings           []string                       `json:"warnings,omitempty"`
}

// CompleteTaskRequest reports a finished task
type CompleteTaskRequest struct {
	TaskID       string   `json:"task_id"`
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"files_changed,omitempty"`
}

// CompleteTaskResponse returns the updated task
type CompleteTaskResponse struct {
	Task *store.Task `json:"task"`
}

// ReadUpdatesRequest fetches messages newer than Since for the caller
type ReadUpdatesRequest struct {
	Since *time.Time `json:"since,omitempty"`
}

// ReadUpdatesResponse returns messages ascending by timestamp
type ReadUpdatesResponse struct {
	Messages []*store.Message `json:"messages"`
}

// PostUpdateRequest publishes a message from the caller
type PostUpdateRequest struct {
	Type     store.MessageType `json:"type"`
	Content  string            `json:"content"`
	To       string            `json:"to,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PostUpdateResponse returns the stored message
type PostUpdateResponse struct {
	Message *store.Message `json:"message"`
}

// GetSessionStatusRequest names a session
type GetSessionStatusRequest struct {
	SessionID string `json:"session_id"`
}

// GetSessionStatusResponse returns the status; Known is false for unknown sessions
type GetSessionStatusResponse struct {
	Known  bool                 `json:"known"`
	Status *store.SessionStatus `json:"status,omitempty"`
}

// RegisterContractRequest registers or overwrites a contract
type RegisterContractRequest struct {
	ID            string             `json:"id"`
	Type          store.ContractType `json:"contract_type"`
	Specification string             `json:"specification"`
}

// RegisterContractResponse returns the stored contract plus lint warnings
type RegisterContractResponse struct {
	Contract *store.Contract `json:"contract"`
	Warnings []string        `json:"warnings,omitempty"`
}

// GetContractsRequest filters contracts
type GetContractsRequest struct {
	Type        store.ContractType `json:"contract_type,omitempty"`
	IDSubstring string             `json:"id_substring,omitempty"`
}

// GetContractsResponse returns matches in registration order
type GetContractsResponse struct {
	Contracts []*store.Contract `json:"contracts"`
}

// RecordDecisionRequest records an architectural decision
type RecordDecisionRequest struct {
	Category  store.DecisionCategory `json:"category"`
	Decision  string                 `json:"decision"`
	Rationale string                 `json:"rationale,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
}

// RecordDecisionResponse returns the stored record
type RecordDecisionResponse struct {
	Decision *store.ArchitecturalDecision `json:"decision"`
}

// GetDecisionsRequest filters decisions by category
type GetDecisionsRequest struct {
	Category store.DecisionCategory `json:"category,omitempty"`
}

// GetDecisionsResponse returns matches in time order
type GetDecisionsResponse struct {
	Decisions []*store.ArchitecturalDecision `json:"decisions"`
}

// RunTestsRequest asks the service to run the project's test command
type RunTestsRequest struct {
	Files          []string `json:"files,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// RunTestsResponse carries the outcome and the output tail
type RunTestsResponse struct {
	Passed bool   `json:"passed"`
	Output string `json:"output"`
}

// ErrorBody is the failure envelope for every verb
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}
