package mcpgateway

import (
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
)

func TestFeatureIndexUpdateTools(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	tools := []mcpmgr.Tool{{
		Name:        "echo",
		Server:      "alpha",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		Category:    "text",
		Tags:        []string{"demo"},
	}}
	removed, added := fi.UpdateTools("alpha", tools)
	if len(removed) != 0 {
		t.Fatalf("unexpected removals: %v", removed)
	}
	if len(added) != 1 {
		t.Fatalf("expected single registration, got %d", len(added))
	}
	target := added[0].Target
	if target.ServerID != "alpha" || target.Native != "echo" || target.Exposed != "alpha__echo" {
		t.Fatalf("unexpected target %+v", target)
	}
	lookup, ok := fi.ToolTarget(target.Exposed)
	if !ok {
		t.Fatalf("tool target missing")
	}
	if lookup.Native != "echo" {
		t.Fatalf("lookup mismatch: %+v", lookup)
	}
	meta := added[0].Tool.Meta
	if meta[metaKeyServerID] != "alpha" || meta[metaKeyCategory] != "text" {
		t.Fatalf("meta missing origin: %+v", meta)
	}

	removed, added = fi.UpdateTools("alpha", nil)
	if len(removed) != 1 || removed[0] != "alpha__echo" || len(added) != 0 {
		t.Fatalf("replace: removed=%v added=%d", removed, len(added))
	}
	if _, ok := fi.ToolTarget("alpha__echo"); ok {
		t.Fatalf("stale tool target still present")
	}
}

func TestExposeToolNormalizesSchemas(t *testing.T) {
	cases := map[string]json.RawMessage{
		"missing":    nil,
		"not object": json.RawMessage(`{"type":"string"}`),
		"garbage":    json.RawMessage(`{`),
	}
	for name, schema := range cases {
		t.Run(name, func(t *testing.T) {
			tool := exposeTool(mcpmgr.Tool{Name: "x", InputSchema: schema, OutputSchema: schema}, target{Exposed: "s__x", ServerID: "s"})
			raw, ok := tool.InputSchema.(json.RawMessage)
			if !ok || string(raw) != `{"type":"object"}` {
				t.Fatalf("input schema = %v, want empty object schema", tool.InputSchema)
			}
			if tool.OutputSchema != nil {
				t.Fatalf("output schema should be dropped, got %v", tool.OutputSchema)
			}
		})
	}
}

func TestFeatureIndexResourceRoundTrip(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	resources := []*mcp.Resource{{URI: "file://notes"}}
	_, added := fi.UpdateResources("bravo", resources)
	if len(added) != 1 {
		t.Fatalf("expected 1 resource registration")
	}
	gateway := added[0].Resource.URI
	if _, ok := fi.ResourceTarget(gateway); !ok {
		t.Fatalf("resource target missing")
	}
	if native, ok := fi.ResourceTargetByNative("bravo", "file://notes"); !ok || native != gateway {
		t.Fatalf("reverse lookup failed: %v %s", ok, native)
	}
	if resources[0].URI != "file://notes" {
		t.Fatalf("upstream resource mutated: %s", resources[0].URI)
	}
}

func TestFeatureIndexRemove(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	fi.UpdateTools("alpha", []mcpmgr.Tool{{Name: "a"}, {Name: "b"}})
	fi.UpdatePrompts("alpha", []*mcp.Prompt{{Name: "p"}})
	fi.UpdateResources("alpha", []*mcp.Resource{{URI: "mem://r"}})
	fi.UpdateTools("bravo", []mcpmgr.Tool{{Name: "a"}})

	gone := fi.Remove("alpha")
	if len(gone.Tools) != 2 || len(gone.Prompts) != 1 || len(gone.Resources) != 1 {
		t.Fatalf("unexpected removal %+v", gone)
	}
	if _, ok := fi.ResourceTargetByNative("alpha", "mem://r"); ok {
		t.Fatalf("reverse entry survived removal")
	}
	if names := fi.ToolNames(); len(names) != 1 || names[0] != "bravo__a" {
		t.Fatalf("remaining tools = %v", names)
	}
	if !fi.Remove("alpha").empty() {
		t.Fatalf("second removal should be empty")
	}
}
