package policy

import (
	"context"
	"encoding/json"
	"net"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hostTable resolves names from a fixed map; other names do not exist.
type hostTable map[string][]string

func (h hostTable) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	raw, ok := h[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	addrs := make([]netip.Addr, len(raw))
	for i, r := range raw {
		addrs[i] = netip.MustParseAddr(r)
	}
	return addrs, nil
}

var testHosts = hostTable{
	"example.com":      {"93.184.215.14", "2606:2800:21f:cb07:6820:80da:af6b:8b2c"},
	"intranet.example": {"10.20.30.40"},
	"mapped.example":   {"::ffff:192.168.0.10"},
}

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy, WithResolver(testHosts))
	require.NoError(t, err)

	tests := []struct {
		name    string
		tool    string
		args    string
		allowed bool
		reason  string
	}{
		{name: "public page", tool: "get_web_content", args: `{"url":"https://example.com/a"}`, allowed: true},
		{name: "public address", tool: "get_web_content", args: `{"url":"http://8.8.8.8/"}`, allowed: true},
		{name: "unresolvable host still allowed", tool: "get_web_content", args: `{"url":"http://bad.invalid"}`, allowed: true},
		{name: "file scheme", tool: "get_web_content", args: `{"url":"file:///etc/passwd"}`, reason: `scheme "file" is not allowed`},
		{name: "metadata host", tool: "get_web_content", args: `{"url":"http://169.254.169.254/latest"}`, reason: `host "169.254.169.254" is not allowed`},
		{name: "link local", tool: "get_web_content", args: `{"url":"http://169.254.170.2/v2/credentials"}`, reason: `host "169.254.170.2" is not allowed`},
		{name: "loopback", tool: "get_web_content", args: `{"url":"http://127.0.0.1:8080/"}`, reason: `host "127.0.0.1" is not allowed`},
		{name: "loopback decimal", tool: "get_web_content", args: `{"url":"http://2130706433/"}`, reason: `host "2130706433" is not allowed`},
		{name: "loopback hex", tool: "get_web_content", args: `{"url":"http://0x7f.1/"}`, reason: `host "0x7f.1" is not allowed`},
		{name: "loopback v6", tool: "get_web_content", args: `{"url":"http://[::1]:8080/"}`, reason: `host "::1" is not allowed`},
		{name: "unspecified", tool: "get_web_content", args: `{"url":"http://0.0.0.0/"}`, reason: `host "0.0.0.0" is not allowed`},
		{name: "class a", tool: "get_web_content", args: `{"url":"http://10.0.0.1/admin"}`, reason: `host "10.0.0.1" is not allowed`},
		{name: "class b", tool: "get_web_content", args: `{"url":"http://172.16.0.5/"}`, reason: `host "172.16.0.5" is not allowed`},
		{name: "class b upper edge", tool: "get_web_content", args: `{"url":"http://172.31.255.255/"}`, reason: `host "172.31.255.255" is not allowed`},
		{name: "outside class b", tool: "get_web_content", args: `{"url":"http://172.32.0.1/"}`, allowed: true},
		{name: "class c", tool: "get_web_content", args: `{"url":"http://192.168.1.1/"}`, reason: `host "192.168.1.1" is not allowed`},
		{name: "carrier nat", tool: "get_web_content", args: `{"url":"http://100.64.0.1/"}`, reason: `host "100.64.0.1" is not allowed`},
		{name: "unique local v6", tool: "get_web_content", args: `{"url":"http://[fd00::1]/"}`, reason: `host "fd00::1" is not allowed`},
		{name: "link local v6", tool: "get_web_content", args: `{"url":"http://[fe80::1]/"}`, reason: `host "fe80::1" is not allowed`},
		{name: "mapped v4 loopback", tool: "get_web_content", args: `{"url":"http://[::ffff:127.0.0.1]/"}`, reason: `host "::ffff:127.0.0.1" is not allowed`},
		{name: "name resolving to private", tool: "get_web_content", args: `{"url":"https://intranet.example/"}`, reason: `host "intranet.example" is not allowed`},
		{name: "name resolving to mapped private", tool: "get_web_content", args: `{"url":"https://mapped.example/"}`, reason: `host "mapped.example" is not allowed`},
		{name: "localhost upper case", tool: "get_web_content", args: `{"url":"HTTP://LOCALHOST/"}`, reason: `host "localhost" is not allowed`},
		{name: "localhost subdomain", tool: "get_web_content", args: `{"url":"http://app.localhost/"}`, reason: `host "app.localhost" is not allowed`},
		{name: "search tools ignore url rules", tool: "wikipedia_search", args: `{"query":"http://localhost"}`, allowed: true},
		{name: "empty args", tool: "get_web_content", args: `{}`, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason, err := engine.Check(ctx, tt.tool, json.RawMessage(tt.args))
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, allowed)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestParseLegacyIPv4(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"2130706433", "127.0.0.1"},
		{"0x7f000001", "127.0.0.1"},
		{"0177.0.0.1", "127.0.0.1"},
		{"127.1", "127.0.0.1"},
		{"10.1.65535", "10.1.255.255"},
		{"example.com", ""},
		{"1.2.3.4.5", ""},
		{"256.1.1.1", ""},
		{"4294967296", ""},
		{"1..2", ""},
	}
	for _, tt := range tests {
		addr, ok := parseLegacyIPv4(tt.host)
		if tt.want == "" {
			assert.False(t, ok, tt.host)
			continue
		}
		require.True(t, ok, tt.host)
		assert.Equal(t, tt.want, addr.String(), tt.host)
	}
}

func TestAllowURL(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy, WithResolver(testHosts))
	require.NoError(t, err)

	ok, err := url.Parse("https://example.com/next")
	require.NoError(t, err)
	assert.NoError(t, engine.AllowURL(ctx, "get_web_content", ok))

	internal, err := url.Parse("http://10.0.0.1/admin")
	require.NoError(t, err)
	assert.EqualError(t, engine.AllowURL(ctx, "get_web_content", internal), `blocked by policy: host "10.0.0.1" is not allowed`)
}

func TestStringDecisionPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package tool_policy

default decision := "allow"

decision := "block" if input.tool_name == "duckduckgo_search"
`)
	require.NoError(t, err)

	allowed, reason, err := engine.Check(ctx, "duckduckgo_search", json.RawMessage(`{"query":"x"}`))
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "denied", reason)

	decision, _, err := engine.Evaluate(ctx, map[string]any{"tool_name": "wikipedia_search"})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestLoadEngine(t *testing.T) {
	ctx := context.Background()

	_, err := LoadEngine(ctx, "", WithResolver(testHosts))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte("package tool_policy\n\ndecision := \"block\"\n"), 0o600))
	engine, err := LoadEngine(ctx, path)
	require.NoError(t, err)
	allowed, _, err := engine.Check(ctx, "wikipedia_search", nil)
	require.NoError(t, err)
	assert.False(t, allowed)

	_, err = LoadEngine(ctx, filepath.Join(t.TempDir(), "missing.rego"))
	assert.ErrorContains(t, err, "failed to read policy file")

	_, err = NewEngine(ctx, "package tool_policy\n\ndecision := {")
	assert.ErrorContains(t, err, "failed to prepare rego")
}
