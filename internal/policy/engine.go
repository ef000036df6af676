// Package policy evaluates tool calls against a rego policy before they run.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

const lookupTimeout = 2 * time.Second

// Resolver looks up the addresses of a host name.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Engine is the OPA policy engine.
type Engine struct {
	query    rego.PreparedEvalQuery
	resolver Resolver
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver sets the resolver used to expose a url host's addresses to
// the policy.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string, opts ...Option) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	e := &Engine{query: query, resolver: net.DefaultResolver}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// LoadEngine reads the policy from path, or uses DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy, opts...)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content), opts...)
}

// Evaluate runs the policy against input.
// The decision rule may produce a string or an object {decision, reason}.
func (e *Engine) Evaluate(ctx context.Context, input any) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]any:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			decision = DecisionAllow
		}
		return decision, reason, nil
	}
	return DecisionAllow, "unexpected return type", nil
}

// Check implements the executor's guard: only a block decision stops the call.
func (e *Engine) Check(ctx context.Context, toolName string, args json.RawMessage) (bool, string, error) {
	decision, reason, err := e.Evaluate(ctx, e.buildInput(ctx, toolName, args))
	if err != nil {
		return true, "", err
	}
	if decision == DecisionBlock {
		if reason == "" {
			reason = "denied"
		}
		return false, reason, nil
	}
	return true, "", nil
}

// AllowURL checks a URL the tool is about to follow, such as a redirect
// target, as if it had been the tool's url argument. Evaluation errors
// allow the request, as they do in Check.
func (e *Engine) AllowURL(ctx context.Context, toolName string, u *url.URL) error {
	args, err := json.Marshal(map[string]string{"url": u.String()})
	if err != nil {
		return err
	}
	allowed, reason, err := e.Check(ctx, toolName, args)
	if err != nil || allowed {
		return nil
	}
	return fmt.Errorf("blocked by policy: %s", reason)
}

// buildInput exposes the arguments and, for a url argument, its parsed
// scheme and host plus the addresses the host resolves to.
func (e *Engine) buildInput(ctx context.Context, toolName string, args json.RawMessage) map[string]any {
	input := map[string]any{"tool_name": toolName}

	var argsMap map[string]any
	if err := json.Unmarshal(args, &argsMap); err != nil || argsMap == nil {
		argsMap = map[string]any{}
	}
	input["args"] = argsMap

	if raw, ok := argsMap["url"].(string); ok {
		if u, err := url.Parse(strings.TrimSpace(raw)); err == nil {
			host := strings.ToLower(u.Hostname())
			input["url"] = map[string]any{
				"scheme": strings.ToLower(u.Scheme),
				"host":   host,
				"addrs":  e.resolve(ctx, host),
			}
		}
	}
	return input
}

// resolve returns the unmapped addresses of host. Literal addresses,
// including the numeric forms inet_aton accepts, are not looked up. A host
// that does not resolve has no addresses.
func (e *Engine) resolve(ctx context.Context, host string) []string {
	if host == "" {
		return []string{}
	}
	var addrs []netip.Addr
	if addr, ok := parseHostAddr(host); ok {
		addrs = []netip.Addr{addr}
	} else if e.resolver != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
		defer cancel()
		addrs, _ = e.resolver.LookupNetIP(lookupCtx, "ip", host)
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Unmap().WithZone("").String())
	}
	return out
}

func parseHostAddr(host string) (netip.Addr, bool) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, true
	}
	return parseLegacyIPv4(host)
}

// parseLegacyIPv4 parses the one to four part IPv4 forms with decimal,
// octal or hex parts, e.g. "2130706433", "0x7f.1" or "0177.0.0.1".
func parseLegacyIPv4(host string) (netip.Addr, bool) {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return netip.Addr{}, false
	}
	vals := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 0, 32)
		if err != nil || p == "" {
			return netip.Addr{}, false
		}
		vals[i] = v
	}
	last := len(vals) - 1
	for _, v := range vals[:last] {
		if v > 0xff {
			return netip.Addr{}, false
		}
	}
	if vals[last] >= 1<<(8*(4-last)) {
		return netip.Addr{}, false
	}
	n := vals[last]
	for i, v := range vals[:last] {
		n |= v << (8 * (3 - i))
	}
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}), true
}

// DefaultPolicy keeps page fetches on the public web: it blocks schemes
// other than http(s), internal host names and hosts that resolve into
// loopback, private, link-local or unspecified ranges.
const DefaultPolicy = `
package tool_policy

default decision := "allow"

blocked_hosts := {"localhost", "metadata.google.internal"}

private_ranges := [
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::/128",
	"::1/128",
	"fc00::/7",
	"fe80::/10"
]

decision := {"decision": "block", "reason": sprintf("scheme %q is not allowed", [input.url.scheme])} if {
	input.tool_name == "get_web_content"
	input.url.scheme != ""
	not input.url.scheme in {"http", "https"}
}

decision := {"decision": "block", "reason": sprintf("host %q is not allowed", [input.url.host])} if {
	input.tool_name == "get_web_content"
	input.url.scheme in {"http", "https"}
	private_host(input.url)
}

private_host(u) if blocked_hosts[u.host]

private_host(u) if endswith(u.host, ".localhost")

private_host(u) if {
	some addr in u.addrs
	some cidr in private_ranges
	net.cidr_contains(cidr, addr)
}
`
