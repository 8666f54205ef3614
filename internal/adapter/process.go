package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/normaliser"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
	"go.uber.org/zap"
)

// SuspiciousProcessScore is the pre-flag for a known-bad process name or obfuscated command
const SuspiciousProcessScore = 0.9

type ProcessAdapter struct {
	runner  CommandRunner
	windows bool
	threats *config.Threats
	host    models.HostIdentity
	clock   func() time.Time
	logger  *zap.Logger
}

func NewProcessAdapter(runner CommandRunner, goos string, threats *config.Threats, host models.HostIdentity, clock func() time.Time, logger *zap.Logger) *ProcessAdapter {
	return &ProcessAdapter{
		runner:  runner,
		windows: goos == "windows",
		threats: threats,
		host:    host,
		clock:   clock,
		logger:  logger,
	}
}

func (a *ProcessAdapter) Name() string {
	return "process-listing"
}

func (a *ProcessAdapter) Source() models.SourceSystem {
	return models.SourceProcess
}

func (a *ProcessAdapter) Collect(ctx context.Context) ([]*models.Event, error) {
	var (
		output []byte
		err    error
		lines  []parser.Line[parser.ProcessRecord]
	)

	if a.windows {
		output, err = a.runner.Run(ctx, "tasklist", "/fo", "csv", "/nh")
		if err == nil {
			lines = parser.ParseLines(string(output), parser.ParseTasklistLine)
		}
	} else {
		output, err = a.runner.Run(ctx, "ps", "aux")
		if err == nil {
			lines = parser.ParseLines(string(output), parser.ParsePSAuxLine)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: process listing: %v", ErrSourceUnavailable, err)
	}

	events, skipped, flagged := normaliseProcesses(lines, a.threats, a.host, a.clock(), a.logger)

	a.logger.Debug("Collected process listing",
		zap.Int("events", len(events)),
		zap.Int("skipped", skipped),
		zap.Int("flagged", flagged),
	)

	return events, nil
}

func normaliseProcesses(lines []parser.Line[parser.ProcessRecord], threats *config.Threats, host models.HostIdentity, collected time.Time, logger *zap.Logger) ([]*models.Event, int, int) {
	n := &normaliser.ProcessNormaliser{Host: host, Collected: collected}
	events, skipped := normaliseLines(logger, lines, n)

	flagged := 0
	for _, event := range events {
		if flagProcess(threats, event) {
			flagged++
		}
	}

	return events, skipped, flagged
}

func flagProcess(threats *config.Threats, event *models.Event) bool {
	command, _ := event.EventData["command"].(string)

	if match, ok := threats.MatchSuspiciousProcess(event.Process.Name); ok {
		event.Flag(SuspiciousProcessScore, fmt.Sprintf("suspicious-process(%s)", match))
	} else if match, ok := threats.MatchSuspiciousProcess(command); ok {
		event.Flag(SuspiciousProcessScore, fmt.Sprintf("suspicious-process(%s)", match))
	} else if threats.IsObfuscatedCommand(command) {
		event.Flag(SuspiciousProcessScore, "obfuscated-command")
	} else {
		return false
	}

	event.Severity = models.SeverityWarn
	return true
}
