package adapter

import (
	"runtime"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/normaliser"
	"go.uber.org/zap"
)

// Options carries everything an adapter may need. Zero values fall back to defaults.
type Options struct {
	Runner  CommandRunner
	Threats *config.Threats
	Logger  *zap.Logger

	// GOOS selects command layouts; defaults to runtime.GOOS
	GOOS string

	// Window is how far back the Windows event query reaches
	Window time.Duration

	SyslogFiles []string
	TailLines   int

	HostSampler HostSampler
	Clock       func() time.Time
}

var defaultSyslogFiles = []string{
	"/var/log/auth.log",
	"/var/log/secure",
	"/var/log/syslog",
	"/var/log/messages",
}

func (o Options) withDefaults() Options {
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	if o.Threats == nil {
		o.Threats = config.DefaultThreats()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}
	if o.Window <= 0 {
		o.Window = 5 * time.Minute
	}
	if len(o.SyslogFiles) == 0 {
		o.SyslogFiles = defaultSyslogFiles
	}
	if o.TailLines <= 0 {
		o.TailLines = 200
	}
	if o.HostSampler == nil {
		o.HostSampler = GopsutilSampler{}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// NewAdapter builds the adapter for one source kind
func NewAdapter(source SourceType, opts Options) (Adapter, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With(zap.String("adapter", source.String()))
	host := normaliser.LocalHost()

	switch source {
	case SourceWindowsEvent:
		if opts.GOOS != "windows" {
			return nil, ErrPlatformUnsupported
		}
		return NewWindowsEventAdapter(opts.Runner, opts.Window, host, logger), nil
	case SourceSyslog:
		if opts.GOOS == "windows" {
			return nil, ErrPlatformUnsupported
		}
		return NewSyslogAdapter(opts.SyslogFiles, opts.TailLines, host, logger), nil
	case SourceNetwork:
		return NewNetworkAdapter(opts.Runner, opts.GOOS, opts.Threats, host, opts.Clock, logger), nil
	case SourceProcess:
		return NewProcessAdapter(opts.Runner, opts.GOOS, opts.Threats, host, opts.Clock, logger), nil
	case SourceApplication:
		return NewApplicationAdapter(opts.HostSampler, host, opts.Clock, logger), nil
	default:
		return nil, ErrUnsupportedSource
	}
}
