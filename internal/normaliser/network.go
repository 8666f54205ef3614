package normaliser

import (
	"fmt"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
)

// ConnectionNormaliser maps connection-table rows; the local side is the source
type ConnectionNormaliser struct {
	Host      models.HostIdentity
	Collected time.Time
}

func (n *ConnectionNormaliser) Normalise(record parser.ConnectionRecord, raw string) *models.Event {
	event := models.NewEvent(models.SourceNetwork, models.EventNetworkConnection, n.Collected)
	event.RawMessage = raw
	event.Category = "NETWORK"
	event.Host = n.Host
	event.Process = models.ProcessIdentity{PID: record.PID}
	event.Network = models.NetworkTuple{
		SrcIP:    record.LocalIP,
		SrcPort:  record.LocalPort,
		DstIP:    record.RemoteIP,
		DstPort:  record.RemotePort,
		Protocol: strings.ToUpper(record.Protocol),
	}

	state := record.State
	if state == "" {
		state = "STATELESS"
	}
	event.NormalizedMessage = fmt.Sprintf("%s %s:%d -> %s:%d %s",
		event.Network.Protocol, record.LocalIP, record.LocalPort, record.RemoteIP, record.RemotePort, state)

	event.EventData["state"] = record.State
	if record.PID > 0 {
		event.EventData["pid"] = record.PID
	}

	return event
}

// IsActiveState reports listening or established sockets
func IsActiveState(state string) bool {
	switch strings.ToUpper(state) {
	case "LISTEN", "LISTENING", "ESTABLISHED":
		return true
	}
	return false
}
