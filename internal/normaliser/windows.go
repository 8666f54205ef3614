package normaliser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
)

// Security audit event IDs with a dedicated event type
var windowsEventTypes = map[int]string{
	4624: models.EventLoginSuccess,
	4625: models.EventLoginFailure,
	4634: models.EventLogout,
	4647: models.EventLogout,
	4672: models.EventPrivilegeEscalation,
	4688: models.EventProcessStart,
	4663: models.EventFileAccess,
}

var (
	winAccountName   = regexp.MustCompile(`Account Name:\s+(\S+)`)
	winSourceAddress = regexp.MustCompile(`Source Network Address:\s+(\S+)`)
	winSourcePort    = regexp.MustCompile(`Source Port:\s+(\d+)`)
	winProcessName   = regexp.MustCompile(`(?:New )?Process Name:\s+(.+)`)
	winObjectName    = regexp.MustCompile(`Object Name:\s+(.+)`)
)

// WindowsNormaliser maps Get-WinEvent records. Host is the machine the log was read from;
// its address becomes the destination of inbound logons.
type WindowsNormaliser struct {
	Host models.HostIdentity
}

func (n *WindowsNormaliser) Normalise(record parser.WindowsRecord, raw string) *models.Event {
	eventType, ok := windowsEventTypes[record.EventID]
	if !ok {
		eventType = models.EventSystem
	}

	event := models.NewEvent(models.SourceWindows, eventType, record.TimeCreated)
	event.RawMessage = raw
	event.NormalizedMessage = firstLine(record.Message)
	event.Severity = windowsSeverity(record)
	event.Category = record.Provider
	if event.Category == "" {
		event.Category = record.LogName
	}

	event.Host = models.HostIdentity{Name: record.Machine, IP: n.Host.IP}
	if event.Host.Name == "" {
		event.Host.Name = n.Host.Name
	}
	event.User = models.UserIdentity{ID: record.UserID}
	event.Process = models.ProcessIdentity{PID: record.ProcessID, ThreadID: record.ThreadID}

	for k, v := range record.Raw {
		event.EventData[k] = v
	}
	event.EventData["event_id"] = record.EventID

	applyWindowsMessage(event, record.Message)

	return event
}

// applyWindowsMessage lifts account, address and process details out of the audit text
func applyWindowsMessage(event *models.Event, message string) {
	// Subject comes first, the target account last; "-" means none
	for _, m := range winAccountName.FindAllStringSubmatch(message, -1) {
		if m[1] != "-" {
			event.User.Name = m[1]
		}
	}

	if m := winSourceAddress.FindStringSubmatch(message); m != nil && m[1] != "-" {
		event.Network.SrcIP = m[1]
		event.Network.DstIP = event.Host.IP
		if p := winSourcePort.FindStringSubmatch(message); p != nil {
			event.Network.SrcPort, _ = strconv.Atoi(p[1])
		}
	}

	if m := winProcessName.FindStringSubmatch(message); m != nil {
		image := strings.TrimSpace(m[1])
		event.Process.Name = image[strings.LastIndexAny(image, `\/`)+1:]
		event.EventData["process_image"] = image
	}

	if m := winObjectName.FindStringSubmatch(message); m != nil {
		event.EventData["object_name"] = strings.TrimSpace(m[1])
	}
}

func windowsSeverity(record parser.WindowsRecord) string {
	switch record.Level {
	case 1:
		return models.SeverityCritical
	case 2:
		return models.SeverityError
	case 3:
		return models.SeverityWarn
	}

	// Audit failures are logged at information level
	if record.EventID == 4625 {
		return models.SeverityWarn
	}
	return models.SeverityInfo
}

func firstLine(message string) string {
	if i := strings.IndexAny(message, "\r\n"); i >= 0 {
		return strings.TrimSpace(message[:i])
	}
	return strings.TrimSpace(message)
}
