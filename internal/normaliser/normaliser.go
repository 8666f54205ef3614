// Package normaliser turns parsed source records into canonical events.
package normaliser

import (
	"net"
	"os"
	"strings"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

// Normaliser converts one parsed record, plus the raw text it came from, into an event
type Normaliser[T any] interface {
	Normalise(record T, raw string) *models.Event
}

// LocalHost identifies the machine the collector runs on
func LocalHost() models.HostIdentity {
	host := models.HostIdentity{}

	if name, err := os.Hostname(); err == nil {
		host.Name = name
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return host
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		host.IP = ipNet.IP.String()
		break
	}

	return host
}

// severityFromText is the substring classification used for free-text sources
func severityFromText(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "failed"):
		return models.SeverityError
	case strings.Contains(lower, "warn"):
		return models.SeverityWarn
	default:
		return models.SeverityInfo
	}
}
