// demo-toolserver is a small MCP server on stdio for trying orchestration
// plans end to end. Its tools echo, sleep, fail on purpose and add numbers.
//
// Usage:
//
//	demo-toolserver          # serve on stdio
//	demo-toolserver version
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("demo-toolserver v%s\n", version)
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
			os.Exit(1)
		}
	}
	if err := server.ServeStdio(newServer()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
