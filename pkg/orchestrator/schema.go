package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
)

// validateArguments checks args against the tool's input schema. Schemas the
// validator cannot load are skipped with a warning.
func (o *Orchestrator) validateArguments(tool mcpmgr.Tool, args json.RawMessage) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	resolved, err := o.schemaFor(tool)
	if err != nil {
		o.logger.Warn("skipping argument validation",
			"server", tool.Server,
			"tool", tool.Name,
			"error", err,
		)
		return nil
	}
	instance := map[string]any{}
	if err := json.Unmarshal(args, &instance); err != nil {
		return fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return resolved.Validate(&instance)
}

func (o *Orchestrator) schemaFor(tool mcpmgr.Tool) (*jsonschema.Resolved, error) {
	key := tool.Server + "\x00" + tool.Name
	raw := string(tool.InputSchema)

	o.schemaMu.Lock()
	defer o.schemaMu.Unlock()
	if cached, ok := o.schemas[key]; ok && cached.raw == raw {
		return cached.resolved, cached.err
	}
	var schema jsonschema.Schema
	entry := cachedSchema{raw: raw}
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		entry.err = fmt.Errorf("decoding input schema: %w", err)
	} else {
		entry.resolved, entry.err = schema.Resolve(&jsonschema.ResolveOptions{})
	}
	o.schemas[key] = entry
	return entry.resolved, entry.err
}
