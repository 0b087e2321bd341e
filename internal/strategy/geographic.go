// internal/strategy/geographic.go
package strategy

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/region"
)

// ErrUnresolved is returned when no rule matches the client address.
var ErrUnresolved = errors.New("no rule matches client address")

// Resolver maps a client IP to its nearest region. Resolution accuracy is
// a best-effort hint; routing correctness never depends on it.
type Resolver interface {
	Resolve(clientIP string) (region.Region, error)
}

// geographic resolves the client address and returns the resolved region
// when it is among the candidates; anything else degrades to the default
// region rather than failing the request.
func (p *Picker) geographic(views []View, clientIP string) region.Region {
	if p.resolver == nil || clientIP == "" {
		return p.defaultRegion
	}

	resolved, err := p.resolver.Resolve(clientIP)
	if err != nil {
		p.logger.Debug("geo resolution failed",
			zap.String("client_ip", clientIP),
			zap.Error(err))
		return p.defaultRegion
	}

	for _, v := range views {
		if v.Region == resolved {
			return resolved
		}
	}
	return p.defaultRegion
}

// CIDRRule maps one network block to a region.
type CIDRRule struct {
	CIDR   string
	Region region.Region
}

type cidrRule struct {
	network *net.IPNet
	region  region.Region
}

// CIDRResolver resolves client addresses against an ordered rule list; the
// first matching block wins.
type CIDRResolver struct {
	rules []cidrRule
}

// NewCIDRResolver parses the rule list, preserving order.
func NewCIDRResolver(rules []CIDRRule) (*CIDRResolver, error) {
	parsed := make([]cidrRule, 0, len(rules))
	for _, r := range rules {
		_, network, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			return nil, fmt.Errorf("parse rule %q: %w", r.CIDR, err)
		}
		if !r.Region.Valid() {
			return nil, fmt.Errorf("rule %q: invalid region %d", r.CIDR, int(r.Region))
		}
		parsed = append(parsed, cidrRule{network: network, region: r.Region})
	}
	return &CIDRResolver{rules: parsed}, nil
}

// Resolve implements Resolver.
func (r *CIDRResolver) Resolve(clientIP string) (region.Region, error) {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return 0, fmt.Errorf("invalid client address: %q", clientIP)
	}
	for _, rule := range r.rules {
		if rule.network.Contains(ip) {
			return rule.region, nil
		}
	}
	return 0, ErrUnresolved
}
