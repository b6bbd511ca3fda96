package store

import "time"

// RunStatus is the lifecycle state of a run
type RunStatus string

// Run lifecycle states
const (
	RunInitializing  RunStatus = "initializing"
	RunQuestioning   RunStatus = "questioning"
	RunPlanning      RunStatus = "planning"
	RunExecuting     RunStatus = "executing"
	RunReviewing     RunStatus = "reviewing"
	RunFlowTracing   RunStatus = "flow_tracing"
	RunCheckpointing RunStatus = "checkpointing"
	RunCompleted     RunStatus = "completed"
	RunEscalated     RunStatus = "escalated"
	RunPaused        RunStatus = "paused"
	RunFailed        RunStatus = "failed"
)

// TaskStatus is the lifecycle state of a task
type TaskStatus string

// Task lifecycle states
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskType categorizes a task for worker routing and risk handling
type TaskType string

// Task types
const (
	TaskTypeBackendAPI     TaskType = "backend_api"
	TaskTypeFrontendUI     TaskType = "frontend_ui"
	TaskTypeDatabase       TaskType = "database"
	TaskTypeSecurity       TaskType = "security"
	TaskTypeTesting        TaskType = "testing"
	TaskTypeInfrastructure TaskType = "infrastructure"
	TaskTypeGeneral        TaskType = "general"
)

// RiskLevel rates how dangerous a task is to get wrong
type RiskLevel string

// Risk levels
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SessionState is the lifecycle state of a worker session
type SessionState string

// Session states
const (
	SessionStarting SessionState = "starting"
	SessionWorking  SessionState = "working"
	SessionIdle     SessionState = "idle"
	SessionPausing  SessionState = "pausing"
	SessionPaused   SessionState = "paused"
	SessionDone     SessionState = "done"
	SessionFailed   SessionState = "failed"
)

// MessageType categorizes coordination messages
type MessageType string

// Message types
const (
	MessageStatus        MessageType = "status"
	MessageQuestion      MessageType = "question"
	MessageAnswer        MessageType = "answer"
	MessageBroadcast     MessageType = "broadcast"
	MessageWindDown      MessageType = "wind_down"
	MessageTaskCompleted MessageType = "task_completed"
	MessageError         MessageType = "error"
	MessageEscalation    MessageType = "escalation"
)

// WindDownReason explains why workers are being asked to stop
type WindDownReason string

// Wind-down reasons
const (
	WindDownUsageLimit    WindDownReason = "usage_limit"
	WindDownCycleLimit    WindDownReason = "cycle_limit"
	WindDownUserRequested WindDownReason = "user_requested"
)

// ContractType categorizes shared interface contracts
type ContractType string

// Contract types
const (
	ContractAPIEndpoint    ContractType = "api_endpoint"
	ContractTypeDefinition ContractType = "type_definition"
	ContractEventSchema    ContractType = "event_schema"
	ContractDatabaseSchema ContractType = "database_schema"
)

// DecisionCategory tags an architectural decision
type DecisionCategory string

// Decision categories
const (
	DecisionNaming        DecisionCategory = "naming"
	DecisionAuth          DecisionCategory = "auth"
	DecisionDataModel     DecisionCategory = "data_model"
	DecisionErrorHandling DecisionCategory = "error_handling"
	DecisionAPIDesign     DecisionCategory = "api_design"
	DecisionTesting       DecisionCategory = "testing"
	DecisionPerformance   DecisionCategory = "performance"
	DecisionOther         DecisionCategory = "other"
)

// UsageSnapshot is the last observed utilization of the external budget.
// Utilization is normalized to [0,1].
type UsageSnapshot struct {
	Utilization float64   `json:"utilization"`
	ResetsAt    time.Time `json:"resets_at"`
	ObservedAt  time.Time `json:"observed_at"`
}

// ReviewerMetrics accumulates reviewer tool behavior across cycles
type ReviewerMetrics struct {
	Invocations        int `json:"invocations"`
	NoVerdicts         int `json:"no_verdicts"`
	PresumedRateLimits int `json:"presumed_rate_limits"`
}

// CycleRecord summarizes one completed plan/execute/review cycle
type CycleRecord struct {
	Cycle          int        `json:"cycle"`
	PlanVersion    int        `json:"plan_version"`
	PlanDigest     string     `json:"plan_digest,omitempty"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksFailed    int        `json:"tasks_failed"`
	PlanApproved   bool       `json:"plan_approved"`
	CodeApproved   bool       `json:"code_approved"`
	PlanRounds     int        `json:"plan_rounds"`
	CodeRounds     int        `json:"code_rounds"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        time.Time  `json:"ended_at"`
	DurationSecs   float64    `json:"duration_secs"`
	FlowSummary    *FlowStats `json:"flow_summary,omitempty"`
}

// FlowStats aggregates flow-tracing findings for a cycle
type FlowStats struct {
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
	CrossBoundary int `json:"cross_boundary"`
}

// RunState is the single durable record for a project run. Every transition
// writes through to state.json; crash recovery is load plus an orphan sweep.
type RunState struct {
	Feature        string          `json:"feature"`
	Branch         string          `json:"branch"`
	BaseCommit     string          `json:"base_commit"`
	CurrentCycle   int             `json:"current_cycle"`
	MaxCycles      int             `json:"max_cycles"`
	Concurrency    int             `json:"concurrency"`
	Status         RunStatus       `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	PausedAt       *time.Time      `json:"paused_at,omitempty"`
	ResumeAfter    *time.Time      `json:"resume_after,omitempty"`
	LastUsage      *UsageSnapshot  `json:"last_usage,omitempty"`
	Reviewer       ReviewerMetrics `json:"reviewer_metrics"`
	ActiveSessions []string        `json:"active_sessions"`
	CycleHistory   []CycleRecord   `json:"cycle_history"`
	PlanVersion    int             `json:"plan_version"`
	TaskCounter    int             `json:"task_counter"`
	SessionCounter int             `json:"session_counter"`
}

// Task is one unit of work in the task graph
type Task struct {
	ID                      string     `json:"id"`
	Subject                 string     `json:"subject"`
	Description             string     `json:"description"`
	Status                  TaskStatus `json:"status"`
	Owner                   string     `json:"owner,omitempty"`
	DependsOn               []string   `json:"depends_on,omitempty"`
	Blocks                  []string   `json:"blocks,omitempty"`
	ResultSummary           string     `json:"result_summary,omitempty"`
	FilesChanged            []string   `json:"files_changed,omitempty"`
	Type                    TaskType   `json:"task_type"`
	SecurityRequirements    []string   `json:"security_requirements,omitempty"`
	PerformanceRequirements []string   `json:"performance_requirements,omitempty"`
	AcceptanceCriteria      []string   `json:"acceptance_criteria,omitempty"`
	RiskLevel               RiskLevel  `json:"risk_level"`
	CreatedAt               time.Time  `json:"created_at"`
	StartedAt               *time.Time `json:"started_at,omitempty"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
}

// SessionStatus is the durable status record of one worker session
type SessionStatus struct {
	SessionID      string       `json:"session_id"`
	State          SessionState `json:"state"`
	CurrentTask    string       `json:"current_task,omitempty"`
	CompletedTasks []string     `json:"completed_tasks,omitempty"`
	Progress       string       `json:"progress,omitempty"`
	Error          string       `json:"error,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Message is an append-only coordination event. An empty To means broadcast.
type Message struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to,omitempty"`
	Type      MessageType       `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Contract is a shared interface registered by one task for others to build
// against. Last writer wins.
type Contract struct {
	ID            string       `json:"id"`
	Type          ContractType `json:"contract_type"`
	Specification string       `json:"specification"`
	OwnerTask     string       `json:"owner_task,omitempty"`
	RegisteredAt  time.Time    `json:"registered_at"`
}

// ArchitecturalDecision records a cross-worker design choice
type ArchitecturalDecision struct {
	ID        string           `json:"id"`
	TaskID    string           `json:"task_id,omitempty"`
	SessionID string           `json:"session_id"`
	Category  DecisionCategory `json:"category"`
	Decision  string           `json:"decision"`
	Rationale string           `json:"rationale,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Escalation is the durable record of a request for human guidance
type Escalation struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Options   []string  `json:"options"`
}
