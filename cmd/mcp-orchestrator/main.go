// mcp-orchestrator connects to the MCP servers named in its config file and
// runs tool calls and orchestration plans across them, either from the
// command line or behind a single Streamable HTTP gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time.
var version = "dev"

const banner = `
                                 _               _             _
  _ __ ___   ___ _ __        ___ | |__  ___ _ __ | |_ _ __ __ _| |_ ___  _ __
 | '_ ' _ \ / __| '_ \_____ / _ \| '__/ __| '_ \| __| '__/ _' | __/ _ \| '__|
 | | | | | | (__| |_) |____| (_) | | | (__| | | | |_| | | (_| | || (_) | |
 |_| |_| |_|\___| .__/      \___/|_|  \___|_| |_|\__|_|  \__,_|\__\___/|_|
                |_|
`

func printUsage() {
	fmt.Println("Usage: mcp-orchestrator <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Connect all servers and run the HTTP gateway")
	fmt.Println("  servers                        Connect all servers and print their status")
	fmt.Println("  tools [--server s] [--category c] [--tag t]")
	fmt.Println("                                 List the merged tool catalog")
	fmt.Println("  call [--timeout d] <server> <tool> [json]")
	fmt.Println("                                 Call one tool")
	fmt.Println("  plan [--json] <file.yaml>      Execute an orchestration plan")
	fmt.Println("  version                        Print the version")
	fmt.Println()
	fmt.Println("Every command accepts --config PATH (default $MCP_ORCHESTRATOR_CONFIG,")
	fmt.Println("then $XDG_CONFIG_HOME/mcp-orchestrator/config.yaml).")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "servers":
		err = runServers(ctx, args)
	case "tools":
		err = runTools(ctx, args)
	case "call":
		err = runCall(ctx, args)
	case "plan":
		err = runPlan(ctx, args)
	case "--version", "-v", "version":
		fmt.Printf("mcp-orchestrator %s\n", version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
