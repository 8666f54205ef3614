package detector

import (
	"context"
	"net"
	"strings"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

const (
	suspiciousPortScore = 0.8
	inboundScore        = 0.7
)

// NetworkDetector flags suspicious destination ports and unauthorised inbound connections
type NetworkDetector struct {
	threats *config.Threats
}

func NewNetworkDetector(threats *config.Threats) *NetworkDetector {
	return &NetworkDetector{threats: threats}
}

func (d *NetworkDetector) Name() string {
	return KindNetwork.String()
}

func (d *NetworkDetector) Kind() Kind {
	return KindNetwork
}

func (d *NetworkDetector) Score(ctx context.Context, event *models.Event) float64 {
	var score float64

	if event.Network.DstPort > 0 && d.threats.IsSuspiciousPort(event.Network.DstPort) {
		score = suspiciousPortScore
	}

	if score < inboundScore && isExternal(event.Network.SrcIP) && isInternal(event.Network.DstIP) &&
		!hasTag(event, d.threats.AuthorizedTag()) {
		score = inboundScore
	}

	return score
}

func isInternal(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && (ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast())
}

func isExternal(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && !ip.IsUnspecified() && !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast()
}

// hasTag looks for the tag in the category or in eventData "tag"/"tags"
func hasTag(event *models.Event, tag string) bool {
	if strings.EqualFold(event.Category, tag) {
		return true
	}

	for _, key := range []string{"tag", "tags"} {
		switch v := event.EventData[key].(type) {
		case string:
			for _, t := range strings.Split(v, ",") {
				if strings.EqualFold(strings.TrimSpace(t), tag) {
					return true
				}
			}
		case []string:
			for _, t := range v {
				if strings.EqualFold(t, tag) {
					return true
				}
			}
		case []interface{}:
			for _, t := range v {
				if s, ok := t.(string); ok && strings.EqualFold(s, tag) {
					return true
				}
			}
		}
	}

	return false
}
