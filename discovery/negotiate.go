package discovery

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SupportedRange is the range of discovery protocol versions this
// endpoint implements. Only versions inside this range are advertised
// in the discovery response, per spec.md §6.
const SupportedRange = ">=1.0.0, <2.0.0"

// NegotiateVersion picks the highest version both the endpoint and the
// caller's accept header support. accept carries a comma-separated
// list of versions the caller is willing to receive (e.g.
// "1.2.0,1.1.0,1.0.0"); their order is ignored and the highest one
// inside SupportedRange wins.
func NegotiateVersion(accept string) (string, error) {
	constraint, err := semver.NewConstraint(SupportedRange)
	if err != nil {
		return "", fmt.Errorf("discovery: invalid supported range: %w", err)
	}

	var best *semver.Version
	for _, raw := range strings.Split(accept, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		return "", fmt.Errorf("discovery: no mutually supported protocol version in %q", accept)
	}
	return best.String(), nil
}
