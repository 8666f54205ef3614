package normaliser

import (
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
)

type ProcessNormaliser struct {
	Host      models.HostIdentity
	Collected time.Time
}

func (n *ProcessNormaliser) Normalise(record parser.ProcessRecord, raw string) *models.Event {
	event := models.NewEvent(models.SourceProcess, models.EventProcessSnapshot, n.Collected)
	event.RawMessage = raw
	event.Category = "PROCESS"
	event.Host = n.Host
	event.User = models.UserIdentity{Name: record.User}
	event.Process = models.ProcessIdentity{PID: record.PID, Name: record.Name}

	if record.User != "" {
		event.NormalizedMessage = fmt.Sprintf("process %s (pid %d) user %s: %s", record.Name, record.PID, record.User, record.Command)
	} else {
		event.NormalizedMessage = fmt.Sprintf("process %s (pid %d)", record.Name, record.PID)
	}

	event.EventData["command"] = record.Command
	event.EventData["memory_kb"] = record.MemoryKB
	if record.CPUPercent > 0 || record.MemPercent > 0 {
		event.EventData["cpu_percent"] = record.CPUPercent
		event.EventData["mem_percent"] = record.MemPercent
	}
	if record.State != "" {
		event.EventData["state"] = record.State
	}
	if record.Session != "" {
		event.EventData["session"] = record.Session
	}

	return event
}
