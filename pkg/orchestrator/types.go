package orchestrator

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidCall is returned for a ToolCall missing its server or tool.
	ErrInvalidCall = errors.New("invalid tool call")
	// ErrInvalidPlan is returned before execution for plans with empty or
	// duplicate step IDs, or dependencies on steps that do not exist.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrCircularDependency is returned when no remaining step can ever become
	// ready.
	ErrCircularDependency = errors.New("circular dependency")
)

// ToolCall names one remote tool invocation.
type ToolCall struct {
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// Timeout overrides the server and orchestrator defaults when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ToolResult is the outcome of a call. Exactly one of Result and Error is
// set.
type ToolResult struct {
	Tool      string          `json:"tool"`
	Server    string          `json:"server"`
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Timestamp time.Time       `json:"timestamp"`

	// Err keeps the underlying error for errors.Is checks.
	Err error `json:"-"`
}

// OK reports whether the call succeeded.
func (r ToolResult) OK() bool { return r.Err == nil && r.Error == "" }

func (r *ToolResult) fail(err error) {
	r.Result = nil
	r.Err = err
	r.Error = err.Error()
}

// StepType selects what a plan step invokes.
type StepType string

const (
	StepTool     StepType = "tool"
	StepResource StepType = "resource"
	StepPrompt   StepType = "prompt"
)

// ExecutionStep is one node of a plan. Operation is the tool name, resource
// URI or prompt name depending on Type.
type ExecutionStep struct {
	ID        string         `json:"id" yaml:"id"`
	Type      StepType       `json:"type,omitempty" yaml:"type,omitempty"`
	Server    string         `json:"server" yaml:"server"`
	Operation string         `json:"operation" yaml:"operation"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty" yaml:"depends_on,omitempty"`
	Timeout   time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OrchestrationPlan is a directed graph of steps. Dependencies mirrors each
// step's DependsOn and Parallel is true when no step has any.
type OrchestrationPlan struct {
	ID           string              `json:"id"`
	Description  string              `json:"description"`
	Steps        []ExecutionStep     `json:"steps"`
	Dependencies map[string][]string `json:"dependencies"`
	Parallel     bool                `json:"parallel"`
}
