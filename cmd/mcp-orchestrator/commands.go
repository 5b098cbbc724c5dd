package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	mcpgateway "github.com/vikashloomba/mcp-orchestrator-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-orchestrator-go/pkg/orchestrator"
)

func runServe(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("serve")
	addr := fs.String("addr", "", "Listen address (overrides gateway.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rt, err := loadRuntime(*configPath, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	cyan.Print(banner)
	fmt.Println()
	green.Print("▶ ")
	fmt.Printf("Config: %s\n", rt.configPath)

	for _, err := range rt.connect(ctx, nil) {
		rt.logger.Warn("server registration failed", "error", err)
	}
	printServers(rt.orch.Servers())

	gwCfg := rt.cfg.Gateway
	if *addr != "" {
		gwCfg.Addr = *addr
	}
	gw, err := mcpgateway.NewGateway(rt.orch, &mcpgateway.Options{
		Addr:            gwCfg.Addr,
		Path:            gwCfg.Path,
		CORSOrigins:     gwCfg.CORSOrigins,
		DisablePlanTool: gwCfg.DisablePlanTool,
		Logger:          rt.logger,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer gw.Close()

	green.Print("▶ ")
	fmt.Printf("Gateway listening on %s%s\n", gwCfg.Addr, gwCfg.Path)

	if err := gw.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServers(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("servers")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rt, err := loadRuntime(*configPath, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.connect(ctx, nil)
	servers := rt.orch.Servers()
	if len(servers) == 0 {
		fmt.Println("No servers configured.")
		return nil
	}
	printServers(servers)
	return nil
}

func runTools(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("tools")
	servers := fs.String("server", "", "Comma separated server IDs")
	categories := fs.String("category", "", "Comma separated categories")
	tags := fs.String("tag", "", "Comma separated tags")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rt, err := loadRuntime(*configPath, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	filter := mcpmgr.ToolFilter{
		Servers:    splitList(*servers),
		Categories: splitList(*categories),
		Tags:       splitList(*tags),
	}
	for _, err := range rt.connect(ctx, filter.Servers) {
		rt.logger.Warn("server registration failed", "error", err)
	}

	tools := rt.orch.ListTools(filter)
	if len(tools) == 0 {
		fmt.Println("No tools matched.")
		return nil
	}
	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	for _, t := range tools {
		bold.Printf("%s/%s", t.Server, t.Name)
		if t.Category != "" || len(t.Tags) > 0 {
			gray.Printf("  (%s)", strings.Join(splitList(t.Category+","+strings.Join(t.Tags, ",")), " "))
		}
		fmt.Println()
		if t.Description != "" {
			fmt.Printf("    %s\n", t.Description)
		}
	}
	return nil
}

func runCall(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("call")
	timeout := fs.Duration("timeout", 0, "Per-call timeout (overrides server and default timeouts)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 || len(rest) > 3 {
		return errors.New("usage: mcp-orchestrator call [--timeout d] <server> <tool> [json-arguments]")
	}

	call := orchestrator.ToolCall{Server: rest[0], Tool: rest[1], Timeout: *timeout}
	if len(rest) == 3 {
		if !json.Valid([]byte(rest[2])) {
			return fmt.Errorf("arguments are not valid JSON: %s", rest[2])
		}
		call.Arguments = json.RawMessage(rest[2])
	}

	rt, err := loadRuntime(*configPath, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	if errs := rt.connect(ctx, []string{call.Server}); len(errs) > 0 {
		return errs[0]
	}
	res, err := rt.orch.CallTool(ctx, call)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s/%s failed after %s: %s", res.Server, res.Tool, res.Duration.Round(time.Millisecond), res.Error)
	}
	return printJSON(res.Result)
}

func runPlan(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("plan")
	asJSON := fs.Bool("json", false, "Print the results as one JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: mcp-orchestrator plan [--json] <file.yaml>")
	}

	plan, err := orchestrator.LoadPlanFile(fs.Arg(0))
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	var opts orchestrator.Options
	if !*asJSON {
		opts.OnStepStart = func(_ string, step orchestrator.ExecutionStep) {
			color.New(color.FgHiBlack).Printf("  … %s (%s/%s)\n", step.ID, step.Server, step.Operation)
		}
	}
	rt, err := loadRuntime(*configPath, &opts)
	if err != nil {
		return err
	}
	defer rt.close()

	for _, err := range rt.connect(ctx, planServers(plan)) {
		rt.logger.Warn("server registration failed", "error", err)
	}

	results, err := rt.orch.ExecutePlan(ctx, plan)
	if err != nil {
		return err
	}
	if *asJSON {
		data, err := json.Marshal(results)
		if err != nil {
			return err
		}
		return printJSON(data)
	}

	failed := 0
	for _, step := range plan.Steps {
		res, ok := results[step.ID]
		if !ok {
			continue
		}
		if res.OK() {
			green.Print("  ✔ ")
			fmt.Printf("%s %s\n", step.ID, res.Duration.Round(time.Millisecond))
			fmt.Printf("    %s\n", compact(res.Result))
			continue
		}
		failed++
		red.Print("  ✖ ")
		fmt.Printf("%s %s\n", step.ID, res.Duration.Round(time.Millisecond))
		red.Printf("    %s\n", res.Error)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d steps failed", failed, len(plan.Steps))
	}
	return nil
}

// planServers returns the distinct server IDs referenced by a plan.
func planServers(plan orchestrator.OrchestrationPlan) []string {
	seen := make(map[string]struct{}, len(plan.Steps))
	var ids []string
	for _, step := range plan.Steps {
		if _, ok := seen[step.Server]; ok || step.Server == "" {
			continue
		}
		seen[step.Server] = struct{}{}
		ids = append(ids, step.Server)
	}
	sort.Strings(ids)
	return ids
}

func printJSON(data json.RawMessage) error {
	if len(data) == 0 {
		fmt.Println("null")
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// compact shortens a result for one-line display.
func compact(data json.RawMessage) string {
	const limit = 120
	s := strings.Join(strings.Fields(string(data)), " ")
	if len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}
