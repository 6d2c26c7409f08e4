package biz

import (
	"net"
	"strings"

	"HookGuard/internal/conf"
	"HookGuard/pkg/netaddr"

	"github.com/go-kratos/kratos/v2/log"
)

// IPAllowlist admits requests whose client address lies in a configured range.
type IPAllowlist struct {
	ranges       netaddr.Set
	trustProxy   bool
	maxProxyHops int
	// allowAll is the development bypass, never set in production.
	allowAll bool
	logger   *log.Helper
}

// NewIPAllowlist parses the configured ranges. Invalid CIDR literals are logged and
// left out; they never widen the allowlist.
func NewIPAllowlist(c *conf.Gate, logger log.Logger) *IPAllowlist {
	helper := log.NewHelper(log.With(logger, "module", "biz/allowlist"))
	a := &IPAllowlist{logger: helper}
	if c == nil || c.IP == nil {
		return a
	}

	set, errs := netaddr.ParseSet(c.IP.AllowedRanges)
	for _, err := range errs {
		helper.Errorw("msg", "invalid allowed range ignored", "error", err)
	}
	a.ranges = set
	a.trustProxy = c.IP.TrustProxy
	a.maxProxyHops = c.IP.MaxProxyHops

	if c.IP.DevAllowAll {
		if c.IsProduction() {
			helper.Warn("gate.ip.dev_allow_all ignored in production")
		} else {
			a.allowAll = true
			helper.Warnw("msg", "IP allowlist bypass active", "environment", c.Environment)
		}
	}
	return a
}

// ClientIP extracts the client address of a request.
//
// With proxy trust enabled, the left-most forwarded hop is used unless the header
// lists more than maxProxyHops hops; then the hop maxProxyHops positions from the
// right is used, which is the address the outermost trusted proxy saw. Entries
// stuffed in front of it by the client are ignored.
func (a *IPAllowlist) ClientIP(directIP, forwardedFor string) string {
	if a.trustProxy && forwardedFor != "" {
		hops := splitHops(forwardedFor)
		if len(hops) > 0 {
			if a.maxProxyHops > 0 && len(hops) > a.maxProxyHops {
				return hops[len(hops)-a.maxProxyHops]
			}
			return hops[0]
		}
	}
	return stripPort(directIP)
}

// IsAllowed extracts the client address and tests it against every range.
func (a *IPAllowlist) IsAllowed(directIP, forwardedFor string) ValidationOutcome {
	raw := a.ClientIP(directIP, forwardedFor)
	addr, err := netaddr.ParseAddr(raw)
	if err != nil {
		return failed(ReasonInvalidIP, map[string]any{"client_ip": raw})
	}
	meta := map[string]any{"client_ip": addr.String()}

	if a.allowAll {
		meta["bypass"] = "dev_allow_all"
		return passed(meta)
	}
	if len(a.ranges) == 0 {
		return failed(ReasonNoRangesAllowed, meta)
	}
	if r, ok := a.ranges.Match(addr); ok {
		meta["matched_range"] = r.String()
		return passed(meta)
	}
	return failed(ReasonIPNotAllowed, meta)
}

func splitHops(header string) []string {
	parts := strings.Split(header, ",")
	hops := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hops = append(hops, stripPort(p))
		}
	}
	return hops
}

// stripPort removes a port from host:port or [v6]:port. Bare addresses are
// returned as-is.
func stripPort(s string) string {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
