package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxyIP returns an extractor that reads X-Forwarded-For, walking
// from the nearest hop and skipping addresses inside proxies. The header
// is ignored unless the peer itself is one of the proxies, so a client
// cannot pick its own throttling key.
//
// Loopback, link-local and private ranges are trusted only when listed.
func TrustedProxyIP(proxies []*net.IPNet) echo.IPExtractor {
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range proxies {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// ParseProxies parses CIDR ranges. A bare address is taken as a single
// host range.
func ParseProxies(values []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			ip := net.ParseIP(v)
			if ip == nil {
				return nil, fmt.Errorf("invalid proxy address %q", v)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy range %q: %w", v, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// WithIPExtractor sets how the client address used for throttling and
// audit is derived from a request. The default is the TCP peer address.
// Use the same extractor as echo.Echo.IPExtractor so that c.RealIP agrees.
func (t *Transport) WithIPExtractor(extract echo.IPExtractor) *Transport {
	if t != nil && extract != nil {
		t.extractIP = extract
	}
	return t
}

func (t *Transport) clientIP(r *http.Request) string {
	if t.extractIP == nil {
		return echo.ExtractIPDirect()(r)
	}
	return t.extractIP(r)
}
