package remote

import (
	"fmt"
	"strings"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/adapter"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

var syslogFiles = []string{"/var/log/auth.log", "/var/log/secure", "/var/log/syslog", "/var/log/messages"}

const (
	syslogTailLines      = 200
	batchSyslogTailLines = 5000
	windowsWindowMinutes = 15
)

// Command is what to run for a collection class and how to decode its output.
// Decode is false for classes whose output is not telemetry.
type Command struct {
	Line   string
	Source adapter.SourceType
	Decode bool
}

// CommandFor picks the remote command line for a collection class
func CommandFor(class string, goos string) (Command, error) {
	windows := goos == "windows"

	switch class {
	case models.ClassConnectionTest:
		return Command{Line: "echo ok"}, nil
	case models.ClassSyslog:
		if windows {
			break
		}
		return Command{Line: tailCommand(syslogTailLines), Source: adapter.SourceSyslog, Decode: true}, nil
	case models.ClassBatchSyslog:
		if windows {
			break
		}
		return Command{Line: tailCommand(batchSyslogTailLines), Source: adapter.SourceSyslog, Decode: true}, nil
	case models.ClassProcess:
		line := "ps aux"
		if windows {
			line = "tasklist /fo csv /nh"
		}
		return Command{Line: line, Source: adapter.SourceProcess, Decode: true}, nil
	case models.ClassNetwork:
		line := "netstat -an"
		if windows {
			line = "netstat -ano"
		}
		return Command{Line: line, Source: adapter.SourceNetwork, Decode: true}, nil
	case models.ClassWindowsEvent:
		if !windows {
			break
		}
		script := adapter.WindowsEventQuery(windowsWindowMinutes)
		return Command{
			Line:   fmt.Sprintf("powershell.exe -NoProfile -NonInteractive -Command \"%s\"", strings.ReplaceAll(script, `"`, `\"`)),
			Source: adapter.SourceWindowsEvent,
			Decode: true,
		}, nil
	}

	return Command{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedClass, class, goosOrDefault(goos))
}

// tailCommand prints the last n lines of every readable syslog file, without file headers
func tailCommand(n int) string {
	return fmt.Sprintf(`for f in %s; do [ -r "$f" ] && tail -n %d "$f"; done; true`, strings.Join(syslogFiles, " "), n)
}

func goosOrDefault(goos string) string {
	if goos == "" {
		return "linux"
	}
	return goos
}
