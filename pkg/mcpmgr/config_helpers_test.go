package mcpmgr

import (
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHelpersDirect(t *testing.T) {
	t.Parallel()

	stdio := &StdioServerConfig{
		BaseServerConfig: BaseServerConfig{Timeout: 5 * time.Second, Version: "1.2.3"},
		Command:          "demo-toolserver",
		Args:             []string{"--name", "demo"},
		Env:              map[string]string{"A": "B"},
	}
	http := &HTTPServerConfig{
		BaseServerConfig: BaseServerConfig{Name: "Docs", Timeout: 10 * time.Second, Version: "2.0.0"},
		Endpoint:         "https://example",
		MaxRetries:       3,
		SessionID:        "sess",
	}
	clientSide, _ := mcp.NewInMemoryTransports()
	custom := &TransportServerConfig{Transport: clientSide}

	assert.True(t, IsStdio(stdio))
	assert.False(t, IsHTTP(stdio))
	assert.True(t, IsHTTP(http))
	assert.False(t, IsStdio(http))

	assert.Equal(t, TransportStdio, TransportOf(stdio))
	assert.Equal(t, TransportHTTP, TransportOf(http))
	assert.Equal(t, TransportCustom, TransportOf(custom))
	assert.Empty(t, TransportOf(nil))

	sc, ok := AsStdio(stdio)
	require.True(t, ok)
	assert.Equal(t, "demo-toolserver", sc.Command)
	hc, ok := AsHTTP(http)
	require.True(t, ok)
	assert.Equal(t, "https://example", hc.Endpoint)
	tc, ok := AsTransport(custom)
	require.True(t, ok)
	assert.NotNil(t, tc.Transport)

	sc, ok = AsStdio(http)
	assert.False(t, ok)
	assert.Nil(t, sc)
	hc, ok = AsHTTP(stdio)
	assert.False(t, ok)
	assert.Nil(t, hc)

	assert.Equal(t, "stdio://demo-toolserver --name demo", EndpointOf("s", stdio))
	assert.Equal(t, "https://example", EndpointOf("h", http))
	assert.Equal(t, "transport://c", EndpointOf("c", custom))

	assert.Equal(t, "Docs", NameOf("h", http))
	assert.Equal(t, "s", NameOf("s", stdio))
	assert.Equal(t, "x", NameOf("x", nil))
}

func TestConfigHelpersThroughManager(t *testing.T) {
	t.Parallel()

	cfg := map[string]ServerConfig{
		"s-stdio": &StdioServerConfig{
			BaseServerConfig: BaseServerConfig{Timeout: 7 * time.Second},
			Command:          "demo-toolserver",
		},
		"s-http": &HTTPServerConfig{
			BaseServerConfig: BaseServerConfig{Timeout: 9 * time.Second},
			Endpoint:         "https://example.test/mcp",
		},
	}

	m := NewManager(cfg, &ManagerOptions{DefaultClientName: "helpers-test", Logger: discardLogger()})
	seen := map[ConfigTransport]bool{}
	for _, id := range m.ListServers() {
		sc := m.GetServerConfig(id)
		switch TransportOf(sc) {
		case TransportStdio:
			seen[TransportStdio] = true
			c, ok := AsStdio(sc)
			require.True(t, ok)
			assert.Equal(t, "demo-toolserver", c.Command)
		case TransportHTTP:
			seen[TransportHTTP] = true
			c, ok := AsHTTP(sc)
			require.True(t, ok)
			assert.NotEmpty(t, c.Endpoint)
		default:
			t.Fatalf("unknown transport for %s: %T", id, sc)
		}
	}
	assert.Len(t, seen, 2)
	assert.Nil(t, m.GetServerConfig("missing"))
}
