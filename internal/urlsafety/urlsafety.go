// Package urlsafety decides whether a caller-supplied URL may be fetched by
// the server. Rules run in a fixed order and the first failing rule wins.
package urlsafety

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/metrics"
)

// Rule identifies which check rejected a URL.
type Rule string

// Rules in evaluation order.
const (
	RuleParse        Rule = "parse"
	RuleScheme       Rule = "scheme"
	RuleMetadataHost Rule = "metadata_host"
	RuleLocalhost    Rule = "localhost"
	RuleNumericHost  Rule = "numeric_host"
	RulePrivateIP    Rule = "private_ip"
)

// RejectedError reports the rule that refused a URL.
type RejectedError struct {
	Rule   Rule
	Host   string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("url rejected (%s): %s", e.Rule, e.Reason)
	}
	return fmt.Sprintf("url rejected (%s): %s %q", e.Rule, e.Reason, e.Host)
}

// Func validates a raw URL. Fetchers take one so tests can widen the policy.
type Func func(rawURL string) (capture.FetchTarget, error)

var metadataHosts = map[string]struct{}{
	"169.254.169.254":          {},
	"metadata.google.internal": {},
	"metadata.goog":            {},
	"100.100.100.200":          {},
	"169.254.170.2":            {},
	"fd00:ec2::254":            {},
}

var (
	decimalHost   = regexp.MustCompile(`^\d+$`)
	hexHost       = regexp.MustCompile(`^0x[0-9a-f]+$`)
	numericDotted = regexp.MustCompile(`^(0x[0-9a-f]+|\d+)(\.(0x[0-9a-f]+|\d+))*$`)
)

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// Validate applies the fetch safety rules to rawURL and counts rejections
// in linkcapture_ssrf_rejections_total.
func Validate(rawURL string) (capture.FetchTarget, error) {
	target, err := Check(rawURL)
	if err != nil {
		if re, ok := err.(*RejectedError); ok {
			metrics.ObserveSSRFRejection(string(re.Rule))
		}
		return capture.FetchTarget{}, err
	}
	return target, nil
}

// Check applies the same rules as Validate without counting rejections.
// It suits filtering of scraped candidates, which are not fetch attempts.
func Check(rawURL string) (capture.FetchTarget, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return capture.FetchTarget{}, &RejectedError{Rule: RuleParse, Reason: "invalid url"}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return capture.FetchTarget{}, &RejectedError{Rule: RuleScheme, Reason: "only http and https are allowed"}
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return capture.FetchTarget{}, &RejectedError{Rule: RuleParse, Reason: "missing host"}
	}

	if _, ok := metadataHosts[host]; ok {
		return capture.FetchTarget{}, &RejectedError{Rule: RuleMetadataHost, Host: host, Reason: "cloud metadata endpoint"}
	}

	if host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost") {
		return capture.FetchTarget{}, &RejectedError{Rule: RuleLocalhost, Host: host, Reason: "loopback hostname"}
	}

	addr, parseErr := netip.ParseAddr(host)
	if parseErr != nil {
		if decimalHost.MatchString(host) || hexHost.MatchString(host) || numericDotted.MatchString(host) {
			return capture.FetchTarget{}, &RejectedError{Rule: RuleNumericHost, Host: host, Reason: "numeric-encoded address"}
		}
		return capture.FetchTarget{URL: u, Scheme: scheme, Host: host, Class: capture.HostName}, nil
	}

	if IsPrivateAddr(addr) {
		return capture.FetchTarget{}, &RejectedError{Rule: RulePrivateIP, Host: host, Reason: "non-public address"}
	}

	class := capture.HostIPv4
	if addr.Is6() && !addr.Is4In6() {
		class = capture.HostIPv6
	}
	return capture.FetchTarget{URL: u, Scheme: scheme, Host: host, Class: class}, nil
}

// IsPrivateAddr reports whether addr is loopback, private, link-local,
// unique-local, shared address space, unspecified or otherwise not routable
// on the public internet. IPv4-mapped IPv6 addresses are checked as IPv4.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsPrivateIP is IsPrivateAddr for net.IP values.
func IsPrivateIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	return IsPrivateAddr(addr)
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SafeDialContext returns a DialContext that resolves the host itself and
// refuses to connect when any resolved address is non-public. This closes the
// gap between validating a hostname and the address actually dialled.
func SafeDialContext(dialer *net.Dialer, resolver Resolver) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("split host port: %w", err)
		}

		ips, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("resolve %s: no addresses", host)
		}
		for _, ip := range ips {
			if IsPrivateIP(ip.IP) {
				metrics.ObserveSSRFRejection(string(RulePrivateIP))
				return nil, &RejectedError{Rule: RulePrivateIP, Host: host, Reason: "resolves to non-public address"}
			}
		}

		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}
