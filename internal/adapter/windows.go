package adapter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/normaliser"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
	"go.uber.org/zap"
)

// windowsQuery pulls Security, System and Application events newer than a given number of minutes
const windowsQuery = `$start = (Get-Date).AddMinutes(-%d); ` +
	`Get-WinEvent -FilterHashtable @{LogName='Security','System','Application'; StartTime=$start} -ErrorAction SilentlyContinue | ` +
	`Select-Object Id,TimeCreated,ProviderName,Level,LevelDisplayName,LogName,MachineName,ProcessId,ThreadId,UserId,Message | ` +
	`ConvertTo-Json -Depth 3 -Compress`

// WindowsEventQuery renders the PowerShell query for the last n minutes
func WindowsEventQuery(minutes int) string {
	return fmt.Sprintf(windowsQuery, minutes)
}

type WindowsEventAdapter struct {
	runner     CommandRunner
	window     time.Duration
	normaliser *normaliser.WindowsNormaliser
	logger     *zap.Logger
}

func NewWindowsEventAdapter(runner CommandRunner, window time.Duration, host models.HostIdentity, logger *zap.Logger) *WindowsEventAdapter {
	return &WindowsEventAdapter{
		runner:     runner,
		window:     window,
		normaliser: &normaliser.WindowsNormaliser{Host: host},
		logger:     logger,
	}
}

func (a *WindowsEventAdapter) Name() string {
	return "windows-event"
}

func (a *WindowsEventAdapter) Source() models.SourceSystem {
	return models.SourceWindows
}

func (a *WindowsEventAdapter) Collect(ctx context.Context) ([]*models.Event, error) {
	minutes := int(math.Ceil(a.window.Minutes()))
	if minutes < 1 {
		minutes = 1
	}

	output, err := a.runner.Run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", WindowsEventQuery(minutes))
	if err != nil {
		return nil, fmt.Errorf("%w: windows event query: %v", ErrSourceUnavailable, err)
	}

	lines, err := parser.ParseWindowsEvents(output)
	if err != nil {
		return nil, fmt.Errorf("%w: windows event output: %v", ErrSourceUnavailable, err)
	}

	events, skipped := normaliseLines(a.logger, lines, a.normaliser)

	a.logger.Debug("Collected windows events",
		zap.Int("events", len(events)),
		zap.Int("skipped", skipped),
	)

	return events, nil
}
