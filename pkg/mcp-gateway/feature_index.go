package mcpgateway

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
)

const (
	metaKeyServerID   = "orchestrator.server_id"
	metaKeyNativeName = "orchestrator.native_name"
	metaKeyNativeURI  = "orchestrator.native_uri"
	metaKeyCategory   = "category"
	metaKeyTags       = "tags"
)

// target routes one exposed identifier back to its upstream server.
type target struct {
	Exposed  string
	ServerID string
	Native   string
}

// bucket tracks the exposed identifiers of one feature kind.
type bucket struct {
	byExposed map[string]target
	byServer  map[string][]string
}

func newBucket() bucket {
	return bucket{byExposed: make(map[string]target), byServer: make(map[string][]string)}
}

func (b *bucket) drop(serverID string) []string {
	names := b.byServer[serverID]
	for _, name := range names {
		delete(b.byExposed, name)
	}
	delete(b.byServer, serverID)
	return names
}

func (b *bucket) add(t target) {
	b.byExposed[t.Exposed] = t
	b.byServer[t.ServerID] = append(b.byServer[t.ServerID], t.Exposed)
}

func (b *bucket) lookup(exposed string) (target, bool) {
	t, ok := b.byExposed[exposed]
	return t, ok
}

// featureIndex maps the gateway's namespaced tools, prompts and resources to
// their upstream owners.
type featureIndex struct {
	ns NamespaceStrategy

	mu        sync.RWMutex
	tools     bucket
	prompts   bucket
	resources bucket
	templates bucket
	// native resource URI keyed by server, for reverse lookups
	resourceReverse map[string]string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target target
}

type promptRegistration struct {
	Prompt *mcp.Prompt
	Target target
}

type resourceRegistration struct {
	Resource *mcp.Resource
	Target   target
}

type templateRegistration struct {
	Template *mcp.ResourceTemplate
	Target   target
}

// removal lists the exposed identifiers dropped for a server.
type removal struct {
	Tools     []string
	Prompts   []string
	Resources []string
	Templates []string
}

func (r removal) empty() bool {
	return len(r.Tools)+len(r.Prompts)+len(r.Resources)+len(r.Templates) == 0
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:              ns,
		tools:           newBucket(),
		prompts:         newBucket(),
		resources:       newBucket(),
		templates:       newBucket(),
		resourceReverse: make(map[string]string),
	}
}

// UpdateTools replaces a server's tools with the catalog entries given.
func (f *featureIndex) UpdateTools(serverID string, upstream []mcpmgr.Tool) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.tools.drop(serverID)
	for _, tool := range upstream {
		t := target{Exposed: f.ns.ToolName(serverID, tool.Name), ServerID: serverID, Native: tool.Name}
		f.tools.add(t)
		added = append(added, toolRegistration{Tool: exposeTool(tool, t), Target: t})
	}
	return removed, added
}

func (f *featureIndex) UpdatePrompts(serverID string, upstream []*mcp.Prompt) (removed []string, added []promptRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.prompts.drop(serverID)
	for _, prompt := range upstream {
		if prompt == nil {
			continue
		}
		t := target{Exposed: f.ns.PromptName(serverID, prompt.Name), ServerID: serverID, Native: prompt.Name}
		f.prompts.add(t)
		clone := *prompt
		clone.Name = t.Exposed
		clone.Meta = withMeta(prompt.Meta, map[string]any{metaKeyServerID: serverID, metaKeyNativeName: prompt.Name})
		added = append(added, promptRegistration{Prompt: &clone, Target: t})
	}
	return removed, added
}

func (f *featureIndex) UpdateResources(serverID string, upstream []*mcp.Resource) (removed []string, added []resourceRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.dropResourcesLocked(serverID)
	for _, resource := range upstream {
		if resource == nil {
			continue
		}
		t := target{Exposed: f.ns.ResourceURI(serverID, resource.URI), ServerID: serverID, Native: resource.URI}
		f.resources.add(t)
		f.resourceReverse[resourceKey(serverID, resource.URI)] = t.Exposed
		clone := *resource
		clone.URI = t.Exposed
		clone.Meta = withMeta(resource.Meta, map[string]any{metaKeyServerID: serverID, metaKeyNativeURI: resource.URI})
		added = append(added, resourceRegistration{Resource: &clone, Target: t})
	}
	return removed, added
}

func (f *featureIndex) UpdateResourceTemplates(serverID string, upstream []*mcp.ResourceTemplate) (removed []string, added []templateRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.templates.drop(serverID)
	for _, tpl := range upstream {
		if tpl == nil {
			continue
		}
		t := target{Exposed: f.ns.ResourceTemplateURI(serverID, tpl.URITemplate), ServerID: serverID, Native: tpl.URITemplate}
		f.templates.add(t)
		clone := *tpl
		clone.URITemplate = t.Exposed
		clone.Meta = withMeta(tpl.Meta, map[string]any{metaKeyServerID: serverID, metaKeyNativeURI: tpl.URITemplate})
		added = append(added, templateRegistration{Template: &clone, Target: t})
	}
	return removed, added
}

// Remove forgets everything exposed for serverID.
func (f *featureIndex) Remove(serverID string) removal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return removal{
		Tools:     f.tools.drop(serverID),
		Prompts:   f.prompts.drop(serverID),
		Resources: f.dropResourcesLocked(serverID),
		Templates: f.templates.drop(serverID),
	}
}

func (f *featureIndex) dropResourcesLocked(serverID string) []string {
	names := f.resources.byServer[serverID]
	for _, name := range names {
		if t, ok := f.resources.byExposed[name]; ok {
			delete(f.resourceReverse, resourceKey(t.ServerID, t.Native))
		}
	}
	return f.resources.drop(serverID)
}

func (f *featureIndex) ToolTarget(name string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tools.lookup(name)
}

func (f *featureIndex) PromptTarget(name string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prompts.lookup(name)
}

func (f *featureIndex) ResourceTarget(uri string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.resources.lookup(uri)
}

// ResourceTargetByNative returns the exposed URI of a server's resource.
func (f *featureIndex) ResourceTargetByNative(serverID, nativeURI string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	uri, ok := f.resourceReverse[resourceKey(serverID, nativeURI)]
	return uri, ok
}

// ToolNames lists the exposed tool names, sorted.
func (f *featureIndex) ToolNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.tools.byExposed))
}

func resourceKey(serverID, nativeURI string) string {
	return serverID + "\x00" + nativeURI
}

var objectSchema = json.RawMessage(`{"type":"object"}`)

// exposeTool converts a catalog entry into the tool advertised downstream.
// Schemas that are not JSON objects of type "object" are replaced or dropped
// because the MCP server refuses them.
func exposeTool(tool mcpmgr.Tool, t target) *mcp.Tool {
	meta := map[string]any{
		metaKeyServerID:   t.ServerID,
		metaKeyNativeName: tool.Name,
	}
	if tool.Category != "" {
		meta[metaKeyCategory] = tool.Category
	}
	if len(tool.Tags) > 0 {
		meta[metaKeyTags] = slices.Clone(tool.Tags)
	}
	out := &mcp.Tool{
		Meta:        meta,
		Name:        t.Exposed,
		Title:       tool.Title,
		Description: tool.Description,
		InputSchema: objectSchema,
	}
	if isObjectSchema(tool.InputSchema) {
		out.InputSchema = tool.InputSchema
	}
	if isObjectSchema(tool.OutputSchema) {
		out.OutputSchema = tool.OutputSchema
	}
	return out
}

func isObjectSchema(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var schema struct {
		Type any `json:"type"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return false
	}
	return schema.Type == "object"
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	maps.Copy(out, extras)
	return out
}
