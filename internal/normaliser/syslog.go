package normaliser

import (
	"fmt"
	"regexp"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
)

var sessionClosedPattern = regexp.MustCompile(`session closed for user (\S+)`)

var authPrograms = map[string]bool{
	"sshd":           true,
	"sudo":           true,
	"su":             true,
	"login":          true,
	"systemd-logind": true,
	"polkitd":        true,
}

type SyslogNormaliser struct {
	// File is recorded in the event payload
	File string

	// Host is the machine the file was read from
	Host models.HostIdentity
}

func (n *SyslogNormaliser) Normalise(record parser.SyslogRecord, raw string) *models.Event {
	event := models.NewEvent(models.SourceLinux, models.EventSyslog, record.Timestamp)
	event.RawMessage = raw
	event.NormalizedMessage = record.Message
	event.Severity = severityFromText(record.Message)
	event.Host = models.HostIdentity{Name: record.Host, IP: n.Host.IP}
	if event.Host.Name == "" {
		event.Host.Name = n.Host.Name
	}
	event.Process = models.ProcessIdentity{PID: record.PID, Name: record.Program}

	event.Category = "SYSTEM"
	if authPrograms[record.Program] {
		event.Category = "AUTHENTICATION"
	}

	event.EventData["program"] = record.Program
	if n.File != "" {
		event.EventData["file"] = n.File
	}

	switch {
	case record.Program == "sshd":
		n.applySSH(event, record.Message)
	case record.Program == "sudo":
		if cmd, ok := parser.ParseSudo(record.Message); ok {
			event.EventType = models.EventPrivilegeEscalation
			event.Category = "PRIVILEGE"
			event.User = models.UserIdentity{Name: cmd.User}
			event.EventData["target_user"] = cmd.TargetUser
			event.EventData["command"] = cmd.Command
			event.NormalizedMessage = fmt.Sprintf("sudo: %s ran %q as %s", cmd.User, cmd.Command, cmd.TargetUser)
		}
	}

	if event.EventType == models.EventSyslog {
		if m := sessionClosedPattern.FindStringSubmatch(record.Message); m != nil {
			event.EventType = models.EventLogout
			event.User = models.UserIdentity{Name: m[1]}
		}
	}

	return event
}

func (n *SyslogNormaliser) applySSH(event *models.Event, message string) {
	auth, ok := parser.ParseSSHAuth(message)
	if !ok {
		return
	}

	if auth.User != "" {
		event.User = models.UserIdentity{Name: auth.User}
	}
	event.Network = models.NetworkTuple{
		SrcIP:    auth.SourceIP,
		SrcPort:  auth.Port,
		DstIP:    event.Host.IP,
		DstPort:  22,
		Protocol: "TCP",
	}
	event.EventData["ssh_method"] = auth.Method
	event.EventData["invalid_user"] = auth.Invalid

	if auth.Accepted {
		event.EventType = models.EventLoginSuccess
		event.NormalizedMessage = fmt.Sprintf("ssh login accepted for %s from %s", auth.User, auth.SourceIP)
		return
	}

	event.EventType = models.EventLoginFailure
	event.Severity = models.SeverityError
	if auth.Invalid {
		event.NormalizedMessage = fmt.Sprintf("ssh login failed for invalid user %s from %s", auth.User, auth.SourceIP)
	} else {
		event.NormalizedMessage = fmt.Sprintf("ssh login failed for %s from %s", auth.User, auth.SourceIP)
	}
}
