package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IntentType selects the action handler for an intent.
type IntentType string

const (
	IntentCreateAgent IntentType = "create_agent"
	IntentCreateRoom  IntentType = "create_room"
	IntentCreateTool  IntentType = "create_tool"
	IntentEvolveUI    IntentType = "evolve_ui"
)

// intentAliases maps accepted spellings to their canonical type.
var intentAliases = map[string]IntentType{
	"create_agent":  IntentCreateAgent,
	"create_room":   IntentCreateRoom,
	"create_tool":   IntentCreateTool,
	"monetize":      IntentCreateTool,
	"generate_tool": IntentCreateTool,
	"evolve_ui":     IntentEvolveUI,
}

// IntentTypes lists the canonical intent types in a stable order.
func IntentTypes() []IntentType {
	return []IntentType{IntentCreateAgent, IntentCreateRoom, IntentCreateTool, IntentEvolveUI}
}

// ParseIntentType resolves aliases. Unknown types are a validation error.
func ParseIntentType(s string) (IntentType, error) {
	t, ok := intentAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown intent type %q", ErrValidation, s)
	}
	return t, nil
}

// Intent is a queued unit of work.
type Intent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Details    json.RawMessage `json:"details,omitempty"`
	Executed   bool            `json:"executed"`
	CreatedAt  time.Time       `json:"created_at"`
	ExecutedAt *time.Time      `json:"executed_at,omitempty"`
	Result     *Result         `json:"result,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// Result is the outcome record a handler returns.
type Result struct {
	Success      bool     `json:"success"`
	Name         string   `json:"name,omitempty"`
	Path         string   `json:"path,omitempty"`
	FilesCreated []string `json:"files_created,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Failure builds an unsuccessful result.
func Failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// TextDetails encodes free-form details as a JSON string.
func TextDetails(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// RecordDetails encodes a details record.
func RecordDetails(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	return b, nil
}
