package mcpgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/orchestrator"
)

type planInput struct {
	Description string          `json:"description,omitempty" jsonschema:"what the plan is for"`
	Steps       []planStepInput `json:"steps" jsonschema:"steps to execute"`
}

type planStepInput struct {
	ID        string         `json:"id" jsonschema:"unique step id"`
	Type      string         `json:"type,omitempty" jsonschema:"tool (default), resource or prompt"`
	Server    string         `json:"server" jsonschema:"upstream server id"`
	Operation string         `json:"operation" jsonschema:"tool name, resource URI or prompt name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty" jsonschema:"ids of steps that must finish first"`
	Timeout   string         `json:"timeout,omitempty" jsonschema:"duration such as 15s"`
}

type planOutput struct {
	PlanID  string                             `json:"planId"`
	Results map[string]orchestrator.ToolResult `json:"results"`
}

// executePlan runs a plan supplied by a downstream client. Structural errors
// fail the tool call; step failures are reported per step.
func (g *Gateway) executePlan(ctx context.Context, _ *mcp.CallToolRequest, in planInput) (*mcp.CallToolResult, any, error) {
	steps := make([]orchestrator.ExecutionStep, 0, len(in.Steps))
	for _, s := range in.Steps {
		step := orchestrator.ExecutionStep{
			ID:        s.ID,
			Type:      orchestrator.StepType(s.Type),
			Server:    s.Server,
			Operation: s.Operation,
			Arguments: s.Arguments,
			DependsOn: s.DependsOn,
		}
		if s.Timeout != "" {
			d, err := time.ParseDuration(s.Timeout)
			if err != nil {
				return nil, nil, fmt.Errorf("step %q: invalid timeout %q: %w", s.ID, s.Timeout, err)
			}
			step.Timeout = d
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, nil, fmt.Errorf("plan has no steps")
	}

	plan := g.orch.CreatePlan(in.Description, steps)
	results, err := g.orch.ExecutePlan(ctx, plan)
	if err != nil {
		return nil, nil, err
	}
	return nil, planOutput{PlanID: plan.ID, Results: results}, nil
}
