package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
)

// stepClock records when each step started and settled.
type stepClock struct {
	mu      sync.Mutex
	started map[string]time.Time
	done    map[string]time.Time
}

func newStepClock() *stepClock {
	return &stepClock{started: map[string]time.Time{}, done: map[string]time.Time{}}
}

func (c *stepClock) options() *Options {
	return &Options{
		OnStepStart: func(_ string, step ExecutionStep) {
			c.mu.Lock()
			c.started[step.ID] = time.Now()
			c.mu.Unlock()
		},
		OnStepDone: func(_ string, step ExecutionStep, _ ToolResult) {
			c.mu.Lock()
			c.done[step.ID] = time.Now()
			c.mu.Unlock()
		},
	}
}

func (c *stepClock) startedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.started)
}

func sleepStep(id string, ms int, deps ...string) ExecutionStep {
	return ExecutionStep{
		ID:        id,
		Server:    "mem",
		Operation: "sleep",
		Arguments: map[string]any{"ms": ms, "label": id},
		DependsOn: deps,
	}
}

func TestCreatePlanDerivesDependencies(t *testing.T) {
	t.Parallel()
	o := New(nil)

	flat := o.CreatePlan("flat", []ExecutionStep{sleepStep("a", 1), sleepStep("b", 1)})
	assert.True(t, flat.Parallel)
	assert.Empty(t, flat.Dependencies)
	assert.NotEmpty(t, flat.ID)
	assert.Equal(t, StepTool, flat.Steps[0].Type)

	graph := o.CreatePlan("graph", []ExecutionStep{sleepStep("a", 1), sleepStep("b", 1, "a")})
	assert.False(t, graph.Parallel)
	assert.Equal(t, map[string][]string{"b": {"a"}}, graph.Dependencies)
	assert.NotEqual(t, flat.ID, graph.ID)
}

func TestExecutePlanDiamond(t *testing.T) {
	t.Parallel()
	clock := newStepClock()
	o := newTestOrchestrator(t, clock.options())

	plan := o.CreatePlan("diamond", []ExecutionStep{
		sleepStep("a", 50),
		sleepStep("b", 120, "a"),
		sleepStep("c", 60, "a"),
		sleepStep("d", 10, "b", "c"),
	})
	results, err := o.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for id, r := range results {
		assert.Equal(t, id, resultText(t, r))
	}

	clock.mu.Lock()
	defer clock.mu.Unlock()
	assert.False(t, clock.started["b"].Before(clock.done["a"]), "b started before a finished")
	assert.False(t, clock.started["c"].Before(clock.done["a"]), "c started before a finished")
	gap := clock.started["b"].Sub(clock.started["c"]).Abs()
	assert.Less(t, gap, 40*time.Millisecond, "b and c should be dispatched together")
	assert.False(t, clock.started["d"].Before(clock.done["b"]), "d started before b finished")
	assert.False(t, clock.started["d"].Before(clock.done["c"]), "d started before c finished")
}

func TestExecutePlanFailureSatisfiesDependents(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)

	plan := o.CreatePlan("keep going", []ExecutionStep{
		{ID: "a", Server: "mem", Operation: "fail", Arguments: map[string]any{"message": "a broke"}},
		{ID: "b", Server: "mem", Operation: "echo", Arguments: map[string]any{"text": "b ran"}, DependsOn: []string{"a"}},
		{ID: "c", Server: "ghost", Operation: "echo", DependsOn: []string{"b"}},
	})
	results, err := o.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.False(t, results["a"].OK())
	assert.Contains(t, results["a"].Error, "a broke")
	assert.Equal(t, "b ran", resultText(t, results["b"]))
	assert.ErrorIs(t, results["c"].Err, mcpmgr.ErrUnknownServer)
}

func TestExecutePlanTimeoutSatisfiesDependents(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)

	slow := sleepStep("slow", 1000)
	slow.Timeout = 50 * time.Millisecond
	plan := o.CreatePlan("timeout", []ExecutionStep{slow, sleepStep("next", 1, "slow")})
	results, err := o.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.ErrorIs(t, results["slow"].Err, mcpmgr.ErrRequestTimeout)
	assert.Equal(t, "next", resultText(t, results["next"]))
}

func TestExecutePlanDetectsCycle(t *testing.T) {
	t.Parallel()
	clock := newStepClock()
	o := newTestOrchestrator(t, clock.options())

	plan := o.CreatePlan("cycle", []ExecutionStep{
		sleepStep("x", 1, "y"),
		sleepStep("y", 1, "x"),
	})

	done := make(chan struct{})
	var (
		results map[string]ToolResult
		err     error
	)
	go func() {
		results, err = o.ExecutePlan(context.Background(), plan)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ExecutePlan hung on a cyclic plan")
	}
	require.ErrorIs(t, err, ErrCircularDependency)
	assert.Nil(t, results)
	assert.Zero(t, clock.startedCount())
}

func TestExecutePlanCycleAfterProgress(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)

	plan := o.CreatePlan("partial", []ExecutionStep{
		sleepStep("root", 1),
		sleepStep("x", 1, "root", "y"),
		sleepStep("y", 1, "x"),
		sleepStep("self", 1, "self"),
	})
	results, err := o.ExecutePlan(context.Background(), plan)
	require.ErrorIs(t, err, ErrCircularDependency)
	assert.Contains(t, err.Error(), "[self x y]")
	assert.Nil(t, results)
}

func TestExecutePlanRejectsInvalidStructure(t *testing.T) {
	t.Parallel()
	clock := newStepClock()
	o := newTestOrchestrator(t, clock.options())

	plans := map[string]OrchestrationPlan{
		"duplicate id": o.CreatePlan("dup", []ExecutionStep{sleepStep("a", 1), sleepStep("a", 1)}),
		"missing id":   o.CreatePlan("blank", []ExecutionStep{sleepStep("", 1)}),
		"unknown dep":  o.CreatePlan("dangling", []ExecutionStep{sleepStep("a", 1), sleepStep("b", 1, "zzz")}),
	}
	extra := o.CreatePlan("extra", []ExecutionStep{sleepStep("a", 1)})
	extra.Dependencies["ghost"] = []string{"a"}
	plans["dependency for unknown step"] = extra

	for name, plan := range plans {
		t.Run(name, func(t *testing.T) {
			results, err := o.ExecutePlan(context.Background(), plan)
			require.ErrorIs(t, err, ErrInvalidPlan)
			assert.Nil(t, results)
		})
	}
	assert.Zero(t, clock.startedCount(), "nothing may run for an invalid plan")
}

func TestExecutePlanParallelMapsByPosition(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)

	plan := o.CreatePlan("fan out", []ExecutionStep{
		sleepStep("slow", 150),
		sleepStep("fast", 5),
		{ID: "doc", Type: StepResource, Server: "mem", Operation: "mem://readme"},
		{ID: "hello", Type: StepPrompt, Server: "mem", Operation: "greet", Arguments: map[string]any{"who": "plan"}},
		{ID: "odd", Type: "teleport", Server: "mem", Operation: "x"},
	})
	require.True(t, plan.Parallel)

	results, err := o.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, "slow", resultText(t, results["slow"]))
	assert.Equal(t, "fast", resultText(t, results["fast"]))
	assert.Contains(t, string(results["doc"].Result), "readme body")
	assert.Equal(t, "mem://readme", results["doc"].Tool)
	assert.Contains(t, string(results["hello"].Result), "hello plan")
	assert.Contains(t, results["odd"].Error, "unknown type")
}

func TestExecutePlanHookPanicsAreIsolated(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, &Options{
		OnStepStart: func(string, ExecutionStep) { panic("observer bug") },
	})

	results, err := o.ExecutePlan(context.Background(), o.CreatePlan("hooks", []ExecutionStep{sleepStep("a", 1)}))
	require.NoError(t, err)
	assert.Equal(t, "a", resultText(t, results["a"]))
}

func TestLoadPlanFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
description: research pipeline
steps:
  - id: search
    server: web
    operation: search
    arguments:
      query: golang
      limit: 5
  - id: summarize
    server: llm
    operation: summarize
    timeout: 15s
    depends_on: [search]
  - id: notes
    type: resource
    server: files
    operation: file:///tmp/notes.md
`), 0o644))

	plan, err := LoadPlanFile(path)
	require.NoError(t, err)
	assert.Equal(t, "research pipeline", plan.Description)
	require.Len(t, plan.Steps, 3)
	assert.False(t, plan.Parallel)
	assert.Equal(t, map[string][]string{"summarize": {"search"}}, plan.Dependencies)
	assert.Equal(t, StepTool, plan.Steps[0].Type)
	assert.Equal(t, "golang", plan.Steps[0].Arguments["query"])
	assert.Equal(t, 15*time.Second, plan.Steps[1].Timeout)
	assert.Equal(t, StepResource, plan.Steps[2].Type)

	_, err = LoadPlanFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParsePlan([]byte("description: empty\n"))
	assert.ErrorIs(t, err, ErrInvalidPlan)
}
