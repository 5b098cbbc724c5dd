package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// NewPlan builds a plan from steps, deriving Dependencies from each step's
// DependsOn. Steps without a Type default to StepTool.
func NewPlan(description string, steps []ExecutionStep) OrchestrationPlan {
	plan := OrchestrationPlan{
		ID:           uuid.New().String(),
		Description:  description,
		Steps:        make([]ExecutionStep, len(steps)),
		Dependencies: make(map[string][]string),
	}
	for i, step := range steps {
		if step.Type == "" {
			step.Type = StepTool
		}
		step.DependsOn = slices.Clone(step.DependsOn)
		plan.Steps[i] = step
		if len(step.DependsOn) > 0 {
			plan.Dependencies[step.ID] = slices.Clone(step.DependsOn)
		}
	}
	plan.Parallel = len(plan.Dependencies) == 0
	return plan
}

// CreatePlan is NewPlan on the orchestrator surface.
func (o *Orchestrator) CreatePlan(description string, steps []ExecutionStep) OrchestrationPlan {
	return NewPlan(description, steps)
}

// ExecutePlan runs every step and returns each step's result keyed by step
// ID. The error is non-nil only for plans that cannot run to completion:
// ErrInvalidPlan for structural problems detected before anything is
// dispatched, ErrCircularDependency when the remaining steps can never
// become ready. No partial results are returned with an error.
//
// A step whose dependency failed still runs; completion, not success,
// satisfies a dependency.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan OrchestrationPlan) (map[string]ToolResult, error) {
	deps, err := validatePlan(plan)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("plan", plan.ID)
	logger.Info("executing plan",
		"description", plan.Description,
		"steps", len(plan.Steps),
		"parallel", len(deps) == 0,
	)
	start := time.Now()

	var results map[string]ToolResult
	if len(deps) == 0 {
		results = o.executeParallel(ctx, plan)
	} else {
		results, err = o.executeOrdered(ctx, plan, deps)
		if err != nil {
			logger.Error("plan aborted", "error", err)
			return nil, err
		}
	}

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	logger.Info("plan finished", "duration", time.Since(start), "failed_steps", failed)
	return results, nil
}

// validatePlan returns the effective dependency map: each step's DependsOn
// merged with any extra edges in plan.Dependencies.
func validatePlan(plan OrchestrationPlan) (map[string][]string, error) {
	ids := make(map[string]struct{}, len(plan.Steps))
	for i, step := range plan.Steps {
		if step.ID == "" {
			return nil, fmt.Errorf("orchestrator: %w: step %d has no id", ErrInvalidPlan, i)
		}
		if _, dup := ids[step.ID]; dup {
			return nil, fmt.Errorf("orchestrator: %w: duplicate step id %q", ErrInvalidPlan, step.ID)
		}
		ids[step.ID] = struct{}{}
	}
	for id := range plan.Dependencies {
		if _, ok := ids[id]; !ok {
			return nil, fmt.Errorf("orchestrator: %w: dependencies listed for unknown step %q", ErrInvalidPlan, id)
		}
	}

	deps := make(map[string][]string)
	for _, step := range plan.Steps {
		merged := slices.Clone(step.DependsOn)
		for _, d := range plan.Dependencies[step.ID] {
			if !slices.Contains(merged, d) {
				merged = append(merged, d)
			}
		}
		for _, d := range merged {
			if _, ok := ids[d]; !ok {
				return nil, fmt.Errorf("orchestrator: %w: step %q depends on unknown step %q", ErrInvalidPlan, step.ID, d)
			}
		}
		if len(merged) > 0 {
			deps[step.ID] = merged
		}
	}
	return deps, nil
}

// executeParallel dispatches every step at once and maps results back by
// position.
func (o *Orchestrator) executeParallel(ctx context.Context, plan OrchestrationPlan) map[string]ToolResult {
	slots := make([]ToolResult, len(plan.Steps))
	var g errgroup.Group
	for i, step := range plan.Steps {
		g.Go(func() error {
			slots[i] = o.dispatchStep(ctx, plan.ID, step)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]ToolResult, len(plan.Steps))
	for i, step := range plan.Steps {
		results[step.ID] = slots[i]
	}
	return results
}

type settledStep struct {
	id     string
	result ToolResult
}

// executeOrdered runs the ready-set loop: every step whose dependencies have
// all completed is dispatched at once, and the ready set is recomputed each
// time any in-flight step settles.
func (o *Orchestrator) executeOrdered(ctx context.Context, plan OrchestrationPlan, deps map[string][]string) (map[string]ToolResult, error) {
	completed := make(map[string]ToolResult, len(plan.Steps))
	executing := make(map[string]struct{})
	// Buffered so that stragglers never block after an early return.
	settled := make(chan settledStep, len(plan.Steps))

	isReady := func(step ExecutionStep) bool {
		if _, done := completed[step.ID]; done {
			return false
		}
		if _, running := executing[step.ID]; running {
			return false
		}
		for _, d := range deps[step.ID] {
			if _, done := completed[d]; !done {
				return false
			}
		}
		return true
	}

	for len(completed) < len(plan.Steps) {
		for _, step := range plan.Steps {
			if !isReady(step) {
				continue
			}
			executing[step.ID] = struct{}{}
			go func() {
				settled <- settledStep{id: step.ID, result: o.dispatchStep(ctx, plan.ID, step)}
			}()
		}
		if len(executing) == 0 {
			return nil, fmt.Errorf("orchestrator: plan %s: %w among steps %v", plan.ID, ErrCircularDependency, blockedSteps(plan, completed))
		}
		s := <-settled
		delete(executing, s.id)
		completed[s.id] = s.result
	}
	return completed, nil
}

func blockedSteps(plan OrchestrationPlan, completed map[string]ToolResult) []string {
	var out []string
	for _, step := range plan.Steps {
		if _, done := completed[step.ID]; !done {
			out = append(out, step.ID)
		}
	}
	sort.Strings(out)
	return out
}

// dispatchStep runs one step and always produces a result.
func (o *Orchestrator) dispatchStep(ctx context.Context, planID string, step ExecutionStep) ToolResult {
	o.hook(func() {
		if o.opts.OnStepStart != nil {
			o.opts.OnStepStart(planID, step)
		}
	})
	o.logger.Debug("step started", "plan", planID, "step", step.ID, "type", step.Type, "server", step.Server)

	res := o.runStep(ctx, step)

	o.logger.Debug("step settled", "plan", planID, "step", step.ID, "duration", res.Duration, "error", res.Error)
	o.hook(func() {
		if o.opts.OnStepDone != nil {
			o.opts.OnStepDone(planID, step, res)
		}
	})
	return res
}

func (o *Orchestrator) runStep(ctx context.Context, step ExecutionStep) ToolResult {
	switch step.Type {
	case StepTool, "":
		args, err := json.Marshal(step.Arguments)
		if err != nil {
			return failedStep(step, fmt.Errorf("orchestrator: encoding arguments for step %q: %w", step.ID, err))
		}
		if step.Arguments == nil {
			args = nil
		}
		res, _ := o.CallTool(ctx, ToolCall{
			Server:    step.Server,
			Tool:      step.Operation,
			Arguments: args,
			Timeout:   step.Timeout,
		})
		return res
	case StepResource:
		return o.timedStep(ctx, step, func(ctx context.Context) (any, error) {
			return o.manager.ReadResource(ctx, step.Server, step.Operation)
		})
	case StepPrompt:
		return o.timedStep(ctx, step, func(ctx context.Context) (any, error) {
			return o.manager.GetPrompt(ctx, step.Server, step.Operation, stringArgs(step.Arguments))
		})
	default:
		return failedStep(step, fmt.Errorf("orchestrator: step %q has unknown type %q", step.ID, step.Type))
	}
}

func (o *Orchestrator) timedStep(ctx context.Context, step ExecutionStep, fn func(context.Context) (any, error)) ToolResult {
	start := time.Now()
	res := ToolResult{Tool: step.Operation, Server: step.Server, Timestamp: start}
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	out, err := fn(ctx)
	res.Duration = time.Since(start)
	if err != nil {
		res.fail(err)
		return res
	}
	raw, err := json.Marshal(out)
	if err != nil {
		res.fail(fmt.Errorf("orchestrator: encoding step %q result: %w", step.ID, err))
		return res
	}
	res.Result = raw
	return res
}

func failedStep(step ExecutionStep, err error) ToolResult {
	res := ToolResult{Tool: step.Operation, Server: step.Server, Timestamp: time.Now()}
	res.fail(err)
	return res
}

func stringArgs(args map[string]any) map[string]string {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func (o *Orchestrator) hook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("plan hook panicked", "panic", r)
		}
	}()
	fn()
}
