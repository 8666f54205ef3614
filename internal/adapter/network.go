package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/normaliser"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
	"go.uber.org/zap"
)

// SuspiciousPortScore is the pre-flag for a live socket on a known backdoor port
const SuspiciousPortScore = 0.8

type NetworkAdapter struct {
	runner  CommandRunner
	layout  parser.NetstatLayout
	threats *config.Threats
	host    models.HostIdentity
	clock   func() time.Time
	logger  *zap.Logger
}

func NewNetworkAdapter(runner CommandRunner, goos string, threats *config.Threats, host models.HostIdentity, clock func() time.Time, logger *zap.Logger) *NetworkAdapter {
	layout := parser.NetstatUnix
	if goos == "windows" {
		layout = parser.NetstatWindows
	}

	return &NetworkAdapter{
		runner:  runner,
		layout:  layout,
		threats: threats,
		host:    host,
		clock:   clock,
		logger:  logger,
	}
}

func (a *NetworkAdapter) Name() string {
	return "network-connection"
}

func (a *NetworkAdapter) Source() models.SourceSystem {
	return models.SourceNetwork
}

func (a *NetworkAdapter) Collect(ctx context.Context) ([]*models.Event, error) {
	args := []string{"-an"}
	if a.layout == parser.NetstatWindows {
		args = []string{"-ano"}
	}

	output, err := a.runner.Run(ctx, "netstat", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: netstat: %v", ErrSourceUnavailable, err)
	}

	events, skipped, flagged := decodeNetstat(a.layout, output, a.threats, a.host, a.clock(), a.logger)

	a.logger.Debug("Collected network connections",
		zap.Int("events", len(events)),
		zap.Int("skipped", skipped),
		zap.Int("flagged", flagged),
	)

	return events, nil
}

func decodeNetstat(layout parser.NetstatLayout, output []byte, threats *config.Threats, host models.HostIdentity, collected time.Time, logger *zap.Logger) ([]*models.Event, int, int) {
	parse := func(line string) (parser.ConnectionRecord, error) {
		return parser.ParseNetstatLine(layout, line)
	}
	lines := parser.ParseLines(string(output), parse)

	n := &normaliser.ConnectionNormaliser{Host: host, Collected: collected}
	events, skipped := normaliseLines(logger, lines, n)

	listening := listeningPorts(events)

	flagged := 0
	for _, event := range events {
		orientConnection(event, listening)
		if flagConnection(threats, event) {
			flagged++
		}
	}

	return events, skipped, flagged
}

func listeningPorts(events []*models.Event) map[int]bool {
	ports := make(map[int]bool)
	for _, event := range events {
		if state, _ := event.EventData["state"].(string); strings.HasPrefix(strings.ToUpper(state), "LISTEN") {
			ports[event.Network.SrcPort] = true
		}
	}
	return ports
}

// orientConnection turns an established socket on a local service port around so the
// remote peer is the source. A service port is one this host listens on in the same
// snapshot, or a privileged port answered from an ephemeral one.
func orientConnection(event *models.Event, listening map[int]bool) {
	state, _ := event.EventData["state"].(string)
	if !strings.EqualFold(state, "ESTABLISHED") {
		return
	}

	local, remote := event.Network.SrcPort, event.Network.DstPort
	if !listening[local] && !(local > 0 && local < 1024 && remote >= 1024) {
		event.EventData["direction"] = "outbound"
		return
	}

	nt := &event.Network
	nt.SrcIP, nt.DstIP = nt.DstIP, nt.SrcIP
	nt.SrcPort, nt.DstPort = nt.DstPort, nt.SrcPort
	event.EventData["direction"] = "inbound"
}

// flag marks live sockets on a suspicious port. Established connections are judged
// by the remote port, listeners by the port they are bound to.
func flagConnection(threats *config.Threats, event *models.Event) bool {
	state, _ := event.EventData["state"].(string)
	if !normaliser.IsActiveState(state) {
		return false
	}

	port := event.Network.DstPort
	if strings.HasPrefix(state, "LISTEN") {
		port = event.Network.SrcPort
	}

	if !threats.IsSuspiciousPort(port) {
		return false
	}

	event.Flag(SuspiciousPortScore, fmt.Sprintf("suspicious-port(%d)", port))
	event.Severity = models.SeverityWarn
	return true
}
