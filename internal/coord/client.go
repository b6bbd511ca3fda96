package coord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// Client is the typed Go client for the coordination verbs. The sentinel
// and tests use it; external workers speak the same wire protocol.
type Client struct {
	base      string
	token     string
	sessionID string
	http      *http.Client
}

// NewClient creates a client bound to one session id
func NewClient(baseURL, token, sessionID string) *Client {
	return &Client{
		base:      baseURL,
		token:     token,
		sessionID: sessionID,
		http:      &http.Client{Timeout: 15 * time.Minute},
	}
}

// VerbError is a structured verb failure from the service
type VerbError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *VerbError) Error() string {
	return fmt.Sprintf("%s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

func call[Req, Resp any](ctx context.Context, c *Client, verb string, req Req) (*Resp, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeBadVerbRequest, "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/"+verb, bytes.NewReader(body))
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeBadVerbRequest, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(SessionHeader, c.sessionID)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", verb, err)
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", verb, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		var eb ErrorBody
		if err := json.Unmarshal(data, &eb); err == nil && eb.Error != "" {
			return nil, &VerbError{StatusCode: httpResp.StatusCode, Code: eb.Code, Message: eb.Error}
		}
		return nil, &VerbError{StatusCode: httpResp.StatusCode, Message: string(data)}
	}
	var resp Resp
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", verb, err)
	}
	return &resp, nil
}

// ListTasks returns tasks ordered by id, optionally filtered by status
func (c *Client) ListTasks(ctx context.Context, status store.TaskStatus) ([]*store.Task, error) {
	resp, err := call[ListTasksRequest, ListTasksResponse](ctx, c, "list_tasks", ListTasksRequest{Status: string(status)})
	if err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// ClaimTask atomically claims a pending task
func (c *Client) ClaimTask(ctx context.Context, taskID string) (*ClaimTaskResponse, error) {
	return call[ClaimTaskRequest, ClaimTaskResponse](ctx, c, "claim_task", ClaimTaskRequest{TaskID: taskID})
}

// CompleteTask marks the caller's task done
func (c *Client) CompleteTask(ctx context.Context, taskID, summary string, filesChanged []string) (*store.Task, error) {
	resp, err := call[CompleteTaskRequest, CompleteTaskResponse](ctx, c, "complete_task", CompleteTaskRequest{
		TaskID: taskID, Summary: summary, FilesChanged: filesChanged,
	})
	if err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// ReadUpdates returns messages for the caller newer than since
func (c *Client) ReadUpdates(ctx context.Context, since *time.Time) ([]*store.Message, error) {
	resp, err := call[ReadUpdatesRequest, ReadUpdatesResponse](ctx, c, "read_updates", ReadUpdatesRequest{Since: since})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// PostUpdate publishes a message from the caller
func (c *Client) PostUpdate(ctx context.Context, msgType store.MessageType, content, to string, metadata map[string]string) (*store.Message, error) {
	resp, err := call[PostUpdateRequest, PostUpdateResponse](ctx, c, "post_update", PostUpdateRequest{
		Type: msgType, Content: content, To: to, Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}
	return resp.Message, nil
}

// GetSessionStatus returns another session's status; nil when unknown
func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (*store.SessionStatus, error) {
	resp, err := call[GetSessionStatusRequest, GetSessionStatusResponse](ctx, c, "get_session_status", GetSessionStatusRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if !resp.Known {
		return nil, nil
	}
	return resp.Status, nil
}

// RegisterContract registers or overwrites a shared contract
func (c *Client) RegisterContract(ctx context.Context, id string, ctype store.ContractType, spec string) (*RegisterContractResponse, error) {
	return call[RegisterContractRequest, RegisterContractResponse](ctx, c, "register_contract", RegisterContractRequest{
		ID: id, Type: ctype, Specification: spec,
	})
}

// GetContracts returns contracts matching the filters
func (c *Client) GetContracts(ctx context.Context, ctype store.ContractType, idSubstring string) ([]*store.Contract, error) {
	resp, err := call[GetContractsRequest, GetContractsResponse](ctx, c, "get_contracts", GetContractsRequest{
		Type: ctype, IDSubstring: idSubstring,
	})
	if err != nil {
		return nil, err
	}
	return resp.Contracts, nil
}

// RecordDecision records an architectural decision
func (c *Client) RecordDecision(ctx context.Context, category store.DecisionCategory, decision, rationale, taskID string) (*store.ArchitecturalDecision, error) {
	resp, err := call[RecordDecisionRequest, RecordDecisionResponse](ctx, c, "record_decision", RecordDecisionRequest{
		Category: category, Decision: decision, Rationale: rationale, TaskID: taskID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Decision, nil
}

// GetDecisions returns decisions, optionally filtered by category
func (c *Client) GetDecisions(ctx context.Context, category store.DecisionCategory) ([]*store.ArchitecturalDecision, error) {
	resp, err := call[GetDecisionsRequest, GetDecisionsResponse](ctx, c, "get_decisions", GetDecisionsRequest{Category: category})
	if err != nil {
		return nil, err
	}
	return resp.Decisions, nil
}

// RunTests asks the service to run the project's tests
func (c *Client) RunTests(ctx context.Context, files []string, timeoutSeconds int) (*RunTestsResponse, error) {
	return call[RunTestsRequest, RunTestsResponse](ctx, c, "run_tests", RunTestsRequest{
		Files: files, TimeoutSeconds: timeoutSeconds,
	})
}
