package urlsafety

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/metrics"
)

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		rule Rule
	}{
		{"file scheme", "file:///etc/passwd", RuleScheme},
		{"ftp scheme", "ftp://example.com/x", RuleScheme},
		{"javascript", "javascript:alert(1)", RuleScheme},
		{"javascript upper", "JavaScript:alert(1)", RuleScheme},
		{"gopher scheme", "gopher://127.0.0.1:6379/_INFO", RuleScheme},
		{"data scheme", "data:text/html;base64,PHNjcmlwdD4=", RuleScheme},
		{"schemeless", "//example.com/x", RuleScheme},
		{"no host", "http:///path", RuleParse},
		{"aws metadata", "http://169.254.169.254/latest/meta-data/", RuleMetadataHost},
		{"gcp metadata", "http://metadata.google.internal/computeMetadata/v1/", RuleMetadataHost},
		{"gcp short", "http://metadata.goog/", RuleMetadataHost},
		{"alibaba metadata", "http://100.100.100.200/", RuleMetadataHost},
		{"ecs metadata", "http://169.254.170.2/v2/credentials", RuleMetadataHost},
		{"localhost", "http://localhost:8080/", RuleLocalhost},
		{"localhost upper", "http://LOCALHOST/", RuleLocalhost},
		{"localhost trailing dot", "http://localhost./", RuleLocalhost},
		{"localdomain", "http://localhost.localdomain/", RuleLocalhost},
		{"sub localhost", "http://api.localhost/", RuleLocalhost},
		{"decimal ip", "http://2130706433/", RuleNumericHost},
		{"hex ip", "http://0x7f000001/", RuleNumericHost},
		{"short dotted", "http://127.1/", RuleNumericHost},
		{"octal dotted", "http://0177.0.0.1/", RuleNumericHost},
		{"loopback v4", "http://127.0.0.1/", RulePrivateIP},
		{"private 10", "http://10.1.2.3/", RulePrivateIP},
		{"private 172", "http://172.16.0.1/", RulePrivateIP},
		{"private 192", "http://192.168.1.1/", RulePrivateIP},
		{"link local", "http://169.254.1.1/", RulePrivateIP},
		{"cgnat", "http://100.64.0.1/", RulePrivateIP},
		{"zero net", "http://0.0.0.0/", RulePrivateIP},
		{"loopback v6", "http://[::1]/", RulePrivateIP},
		{"unique local v6", "http://[fd12:3456::1]/", RulePrivateIP},
		{"link local v6", "http://[fe80::1]/", RulePrivateIP},
		{"mapped v4 loopback", "http://[::ffff:127.0.0.1]/", RulePrivateIP},
		{"mapped v4 private", "http://[::ffff:10.0.0.1]/", RulePrivateIP},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.raw)
			require.Error(t, err)
			var rej *RejectedError
			require.True(t, errors.As(err, &rej), "expected RejectedError, got %T", err)
			assert.Equal(t, tc.rule, rej.Rule)
		})
	}
}

func ssrfRejections(t *testing.T, rule Rule) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "linkcapture_ssrf_rejections_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "rule" && lp.GetValue() == string(rule) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCheckDoesNotCountRejections(t *testing.T) {
	metrics.Init()
	before := ssrfRejections(t, RuleMetadataHost)

	_, err := Check("http://169.254.169.254/")
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RuleMetadataHost, rej.Rule)
	assert.Equal(t, before, ssrfRejections(t, RuleMetadataHost))

	_, err = Validate("http://169.254.169.254/")
	require.Error(t, err)
	assert.Equal(t, before+1, ssrfRejections(t, RuleMetadataHost))
}

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		raw   string
		class capture.HostClass
		host  string
	}{
		{"https://example.com/article?id=1", capture.HostName, "example.com"},
		{"HTTP://Example.COM", capture.HostName, "example.com"},
		{"http://8.8.8.8/", capture.HostIPv4, "8.8.8.8"},
		{"https://[2606:4700:4700::1111]/", capture.HostIPv6, "2606:4700:4700::1111"},
		{"https://123.example.com/", capture.HostName, "123.example.com"},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			target, err := Validate(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.class, target.Class)
			assert.Equal(t, tc.host, target.Host)
			assert.NotNil(t, target.URL)
		})
	}
}

func TestIsPrivateAddr(t *testing.T) {
	assert.True(t, IsPrivateAddr(netip.MustParseAddr("100.127.255.255")))
	assert.False(t, IsPrivateAddr(netip.MustParseAddr("100.128.0.1")))
	assert.True(t, IsPrivateAddr(netip.MustParseAddr("fc00::1")))
	assert.False(t, IsPrivateAddr(netip.MustParseAddr("1.1.1.1")))
	assert.True(t, IsPrivateIP(net.IP{1, 2}))
}

type staticResolver map[string][]net.IPAddr

func (r staticResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if ips, ok := r[host]; ok {
		return ips, nil
	}
	return nil, errors.New("no such host")
}

func TestSafeDialContextRefusesPrivateResolution(t *testing.T) {
	resolver := staticResolver{
		"rebind.example": {{IP: net.ParseIP("93.184.216.34")}, {IP: net.ParseIP("127.0.0.1")}},
	}
	dial := SafeDialContext(&net.Dialer{}, resolver)

	_, err := dial(context.Background(), "tcp", "rebind.example:80")
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RulePrivateIP, rej.Rule)

	_, err = dial(context.Background(), "tcp", "missing.example:80")
	require.Error(t, err)
}
