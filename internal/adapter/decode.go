package adapter

import (
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/normaliser"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
	"go.uber.org/zap"
)

// DecodeOptions describe where captured output came from
type DecodeOptions struct {
	GOOS      string
	Host      models.HostIdentity
	Collected time.Time
	Threats   *config.Threats
	Logger    *zap.Logger
}

// Decoded is captured output turned into events
type Decoded struct {
	Events  []*models.Event
	Skipped int
	Flagged int
}

// DecodeOutput parses output captured elsewhere (a remote host, a file) for one source
// kind, with the same normalisation and pre-flags a local Collect applies.
// Events with no host identity are attributed to opts.Host.
func DecodeOutput(source SourceType, output []byte, opts DecodeOptions) (Decoded, error) {
	if opts.Threats == nil {
		opts.Threats = config.DefaultThreats()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Collected.IsZero() {
		opts.Collected = time.Now()
	}

	var out Decoded

	switch source {
	case SourceWindowsEvent:
		lines, err := parser.ParseWindowsEvents(output)
		if err != nil {
			return Decoded{}, err
		}
		out.Events, out.Skipped = normaliseLines(opts.Logger, lines, &normaliser.WindowsNormaliser{Host: opts.Host})
	case SourceSyslog:
		lines := parser.ParseLines(string(output), parser.NewSyslogParser().ParseLine)
		out.Events, out.Skipped = normaliseLines(opts.Logger, lines, &normaliser.SyslogNormaliser{File: "remote", Host: opts.Host})
	case SourceNetwork:
		layout := parser.NetstatUnix
		if opts.GOOS == "windows" {
			layout = parser.NetstatWindows
		}
		out.Events, out.Skipped, out.Flagged = decodeNetstat(layout, output, opts.Threats, opts.Host, opts.Collected, opts.Logger)
	case SourceProcess:
		parse := parser.ParsePSAuxLine
		if opts.GOOS == "windows" {
			parse = parser.ParseTasklistLine
		}
		lines := parser.ParseLines(string(output), parse)
		out.Events, out.Skipped, out.Flagged = normaliseProcesses(lines, opts.Threats, opts.Host, opts.Collected, opts.Logger)
	case SourceApplication:
		return Decoded{}, fmt.Errorf("%w: application metrics are sampled in-process", ErrUnsupportedSource)
	default:
		return Decoded{}, ErrUnsupportedSource
	}

	for _, event := range out.Events {
		if event.Host.Name == "" && event.Host.IP == "" {
			event.Host = opts.Host
		}
	}

	return out, nil
}
