package normaliser

import (
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var collected = time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

// normaliseAll mirrors what an adapter does with one captured sample
func normaliseAll[T any](lines []parser.Line[T], n Normaliser[T]) []*models.Event {
	var events []*models.Event
	for _, l := range lines {
		if l.Skipped() {
			continue
		}
		events = append(events, n.Normalise(l.Record, l.Text))
	}
	return events
}

func TestRoundTrip_Syslog(t *testing.T) {
	p := &parser.SyslogParser{Location: time.UTC, Now: func() time.Time { return collected }}
	line := "Oct 19 03:14:07 web01 sshd[1234]: Failed password for root from 203.0.113.5 port 51122 ssh2"

	events := normaliseAll(parser.ParseLines(line, p.ParseLine), Normaliser[parser.SyslogRecord](&SyslogNormaliser{File: "/var/log/auth.log"}))
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, models.SourceLinux, e.Source)
	assert.Equal(t, models.EventLoginFailure, e.EventType)
	assert.Equal(t, models.SeverityError, e.Severity)
	assert.Equal(t, "AUTHENTICATION", e.Category)
	assert.Equal(t, "root", e.User.Name)
	assert.Equal(t, "203.0.113.5", e.Network.SrcIP)
	assert.Equal(t, 22, e.Network.DstPort)
	assert.Equal(t, "web01", e.Host.Name)
	assert.Equal(t, int32(1234), e.Process.PID)
	assert.Equal(t, line, e.RawMessage)
	assert.Equal(t, "/var/log/auth.log", e.EventData["file"])
	assert.Equal(t, models.DispositionNew, e.Status)
}

func TestRoundTrip_PSAux(t *testing.T) {
	line := "alice  4242  1.5  2.0 900000 120000 pts/0 S+ 10:11 0:10 /usr/bin/vim notes.txt"
	n := &ProcessNormaliser{Host: models.HostIdentity{Name: "web01"}, Collected: collected}

	events := normaliseAll(parser.ParseLines(line, parser.ParsePSAuxLine), Normaliser[parser.ProcessRecord](n))
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, models.SourceProcess, e.Source)
	assert.Equal(t, models.EventProcessSnapshot, e.EventType)
	assert.Equal(t, "alice", e.User.Name)
	assert.Equal(t, int32(4242), e.Process.PID)
	assert.Equal(t, "vim", e.Process.Name)
	assert.Equal(t, "/usr/bin/vim notes.txt", e.EventData["command"])
	assert.Equal(t, collected, e.Timestamp)
}

func TestRoundTrip_Netstat(t *testing.T) {
	line := "tcp        0      0 192.168.1.20:52344      203.0.113.50:4444       ESTABLISHED"
	n := &ConnectionNormaliser{Collected: collected}
	parse := func(s string) (parser.ConnectionRecord, error) { return parser.ParseNetstatLine(parser.NetstatUnix, s) }

	events := normaliseAll(parser.ParseLines(line, parse), Normaliser[parser.ConnectionRecord](n))
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, models.SourceNetwork, e.Source)
	assert.Equal(t, models.NetworkTuple{
		SrcIP:    "192.168.1.20",
		SrcPort:  52344,
		DstIP:    "203.0.113.50",
		DstPort:  4444,
		Protocol: "TCP",
	}, e.Network)
	assert.Equal(t, "ESTABLISHED", e.EventData["state"])
}

func TestRoundTrip_WindowsJSON(t *testing.T) {
	data := `{"Id": 4625, "TimeCreated": "/Date(1760860800000)/", "ProviderName": "Microsoft-Windows-Security-Auditing",
"Level": 0, "LogName": "Security", "MachineName": "DC01", "ProcessId": 636, "ThreadId": 4412,
"Message": "An account failed to log on.\r\n\r\nSubject:\r\n\tAccount Name:\t\t-\r\n\r\nAccount For Which Logon Failed:\r\n\tAccount Name:\t\tadministrator\r\n\r\nNetwork Information:\r\n\tSource Network Address:\t198.51.100.77\r\n\tSource Port:\t\t50123\r\n"}`

	lines, err := parser.ParseWindowsEvents([]byte(data))
	require.NoError(t, err)

	events := normaliseAll(lines, Normaliser[parser.WindowsRecord](&WindowsNormaliser{}))
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, models.SourceWindows, e.Source)
	assert.Equal(t, models.EventLoginFailure, e.EventType)
	assert.Equal(t, models.SeverityWarn, e.Severity)
	assert.Equal(t, "Microsoft-Windows-Security-Auditing", e.Category)
	assert.Equal(t, "An account failed to log on.", e.NormalizedMessage)
	assert.Equal(t, "administrator", e.User.Name)
	assert.Equal(t, "198.51.100.77", e.Network.SrcIP)
	assert.Equal(t, 50123, e.Network.SrcPort)
	assert.Equal(t, "DC01", e.Host.Name)
	assert.Equal(t, int32(4412), e.Process.ThreadID)
	assert.Equal(t, "Security", e.EventData["LogName"])
	assert.Equal(t, 4625, e.EventData["event_id"])
	assert.Equal(t, time.UnixMilli(1760860800000), e.Timestamp)
}

func TestWindowsNormaliser_FileAccessProcessName(t *testing.T) {
	record := parser.WindowsRecord{
		EventID:     4663,
		TimeCreated: collected,
		Provider:    "Microsoft-Windows-Security-Auditing",
		Message:     "An attempt was made to access an object.\r\nObject Name:\tC:\\Users\\bob\\secrets.xlsx\r\nProcess Name:\tC:\\Windows\\explorer.exe\r\n",
	}

	e := (&WindowsNormaliser{}).Normalise(record, "{}")

	assert.Equal(t, models.EventFileAccess, e.EventType)
	assert.Equal(t, "explorer.exe", e.Process.Name)
	assert.Equal(t, `C:\Users\bob\secrets.xlsx`, e.EventData["object_name"])
}

func TestWindowsNormaliser_UnknownIDIsSystemEvent(t *testing.T) {
	record := parser.WindowsRecord{EventID: 7036, Level: 2, LogName: "System", TimeCreated: collected}

	e := (&WindowsNormaliser{}).Normalise(record, "{}")

	assert.Equal(t, models.EventSystem, e.EventType)
	assert.Equal(t, models.SeverityError, e.Severity)
	assert.Equal(t, "System", e.Category)
}

func TestSyslogNormaliser_EventTypes(t *testing.T) {
	tests := []struct {
		name      string
		record    parser.SyslogRecord
		eventType string
		user      string
		severity  string
	}{
		{
			name:      "accepted login",
			record:    parser.SyslogRecord{Program: "sshd", Message: "Accepted publickey for bob from 10.1.1.1 port 6000 ssh2"},
			eventType: models.EventLoginSuccess,
			user:      "bob",
			severity:  models.SeverityInfo,
		},
		{
			name:      "sudo",
			record:    parser.SyslogRecord{Program: "sudo", Message: "alice : TTY=pts/0 ; PWD=/home/alice ; USER=root ; COMMAND=/bin/bash"},
			eventType: models.EventPrivilegeEscalation,
			user:      "alice",
			severity:  models.SeverityInfo,
		},
		{
			name:      "session closed",
			record:    parser.SyslogRecord{Program: "sshd", Message: "pam_unix(sshd:session): session closed for user carol"},
			eventType: models.EventLogout,
			user:      "carol",
			severity:  models.SeverityInfo,
		},
		{
			name:      "plain warning",
			record:    parser.SyslogRecord{Program: "kernel", Message: "WARNING: CPU temperature above threshold"},
			eventType: models.EventSyslog,
			severity:  models.SeverityWarn,
		},
		{
			name:      "plain error",
			record:    parser.SyslogRecord{Program: "systemd", Message: "nginx.service: Failed with result 'exit-code'."},
			eventType: models.EventSyslog,
			severity:  models.SeverityError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := (&SyslogNormaliser{}).Normalise(tt.record, tt.record.Message)

			assert.Equal(t, tt.eventType, e.EventType)
			assert.Equal(t, tt.user, e.User.Name)
			assert.Equal(t, tt.severity, e.Severity)
		})
	}
}

func TestMetricsNormaliser(t *testing.T) {
	cpu := 42.0
	sample := MetricsSample{Timestamp: collected, UsedBytes: 850, TotalBytes: 1000, Goroutines: 12, HostCPUPercent: &cpu}

	e := (&MetricsNormaliser{}).Normalise(sample, "")

	assert.Equal(t, models.SourceApplication, e.Source)
	assert.Equal(t, models.EventApplicationMetrics, e.EventType)
	assert.InDelta(t, 0.85, e.EventData["memory_usage_ratio"], 1e-9)
	assert.Equal(t, 42.0, e.EventData["host_cpu_percent"])
	assert.NotContains(t, e.EventData, "host_load_1")
	assert.Equal(t, e.NormalizedMessage, e.RawMessage)
}

func TestMetricsSample_UsageRatioZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, MetricsSample{UsedBytes: 10}.UsageRatio())
}

func TestIsActiveState(t *testing.T) {
	assert.True(t, IsActiveState("LISTEN"))
	assert.True(t, IsActiveState("Listening"))
	assert.True(t, IsActiveState("ESTABLISHED"))
	assert.False(t, IsActiveState("TIME_WAIT"))
	assert.False(t, IsActiveState(""))
}
