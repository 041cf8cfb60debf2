package model

import "time"

// Outcome classifies how an action ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDegraded Outcome = "degraded"
)

// ValidOutcomes are the allowed event outcomes.
var ValidOutcomes = map[Outcome]bool{
	OutcomeSuccess:  true,
	OutcomeError:    true,
	OutcomeSkipped:  true,
	OutcomeDegraded: true,
}

// Event action types that are not intent types.
const (
	ActionTick     = "tick"
	ActionRollback = "rollback"
	ActionShutdown = "shutdown"
	ActionQueue    = "queue"
	ActionGenerate = "generate"
)

// Event is an immutable record appended after every action.
type Event struct {
	Seq          int64     `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	Cycle        uint64    `json:"cycle"`
	IntentRef    string    `json:"intent_ref,omitempty"`
	ActionType   string    `json:"action_type"`
	Outcome      Outcome   `json:"outcome"`
	FilesCreated []string  `json:"files_created,omitempty"`
	Error        string    `json:"error,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	Poisoned     bool      `json:"poisoned,omitempty"`
	Deferred     bool      `json:"deferred,omitempty"`
	Run          string    `json:"run,omitempty"`
	Note         string    `json:"note,omitempty"`
}

// Counters are the totals exposed by the status snapshot.
type Counters struct {
	AgentsCreated int    `json:"agents_created"`
	RoomsCreated  int    `json:"rooms_created"`
	ToolsCreated  int    `json:"tools_created"`
	UIsEvolved    int    `json:"uis_evolved"`
	Cycles        uint64 `json:"cycles"`
	Errors        int    `json:"errors"`
	Degraded      int    `json:"degraded"`
}
