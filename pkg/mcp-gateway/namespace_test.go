package mcpgateway

import "testing"

func TestServerPrefixNamespaceResourceRoundTrip(t *testing.T) {
	ns := ServerPrefixNamespace{}
	gateway := ns.ResourceTemplateURI("alpha", "file://{path}")
	if gateway == "" {
		t.Fatalf("gateway uri empty")
	}
	native, ok := ns.NativeResourceTemplateURI("alpha", gateway)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if native != "file://{path}" {
		t.Fatalf("unexpected native value: %s", native)
	}
}

func TestServerPrefixNamespaceResourceDecodeMismatch(t *testing.T) {
	ns := ServerPrefixNamespace{}
	if _, ok := ns.NativeResourceURI("alpha", ns.ResourceURI("bravo", "file://foo")); ok {
		t.Fatalf("decode should fail when server ids differ")
	}
	if _, ok := ns.NativeResourceURI("alpha", ns.ResourceTemplateURI("alpha", "file://foo")); ok {
		t.Fatalf("decode should fail across resource kinds")
	}
}

func TestServerPrefixNamespaceToolNames(t *testing.T) {
	cases := []struct {
		ns     ServerPrefixNamespace
		server string
		tool   string
		want   string
	}{
		{ServerPrefixNamespace{}, "files", "read", "files__read"},
		{ServerPrefixNamespace{Separator: "."}, "files", "read", "files.read"},
		{ServerPrefixNamespace{}, "team a", "list/all", "team_a__list_all"},
	}
	for _, tc := range cases {
		if got := tc.ns.ToolName(tc.server, tc.tool); got != tc.want {
			t.Errorf("ToolName(%q, %q) = %q, want %q", tc.server, tc.tool, got, tc.want)
		}
	}
}
