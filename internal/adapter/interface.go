// Package adapter provides one collector per telemetry source. Each adapter turns its
// source's raw output into canonical events.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

// Adapter defines what every source collector has to do.
//
// Collect returns an error with zero events only when the source itself could not be
// reached. Individual unparseable records are logged and skipped.
type Adapter interface {
	Name() string
	Source() models.SourceSystem
	Collect(ctx context.Context) ([]*models.Event, error)
}

// SourceType is the closed set of adapter kinds
type SourceType int

const (
	SourceWindowsEvent SourceType = iota
	SourceSyslog
	SourceNetwork
	SourceProcess
	SourceApplication
)

var sourceTypeNames = map[SourceType]string{
	SourceWindowsEvent: "windows",
	SourceSyslog:       "syslog",
	SourceNetwork:      "network",
	SourceProcess:      "process",
	SourceApplication:  "application",
}

func (s SourceType) String() string {
	if name, ok := sourceTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SourceType(%d)", int(s))
}

// AllSourceTypes lists every adapter kind in collection order
func AllSourceTypes() []SourceType {
	return []SourceType{SourceWindowsEvent, SourceSyslog, SourceNetwork, SourceProcess, SourceApplication}
}

// ParseSourceType accepts the config names plus a few aliases
func ParseSourceType(name string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "windows", "windows-event", "windows_event", "winevent":
		return SourceWindowsEvent, nil
	case "syslog", "linux", "unix-syslog":
		return SourceSyslog, nil
	case "network", "netstat":
		return SourceNetwork, nil
	case "process", "processes", "ps":
		return SourceProcess, nil
	case "application", "app", "metrics":
		return SourceApplication, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSource, name)
	}
}

var (
	// ErrUnsupportedSource - no adapter exists for the requested kind
	ErrUnsupportedSource = errors.New("adapter: unsupported source type")

	// ErrPlatformUnsupported - the adapter cannot run on this operating system
	ErrPlatformUnsupported = errors.New("adapter: source not available on this platform")

	// ErrSourceUnavailable - nothing could be read from the source at all
	ErrSourceUnavailable = errors.New("adapter: source unavailable")
)
