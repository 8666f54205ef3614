package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SyslogRecord is one line of a traditional or RFC 3339 stamped syslog file
type SyslogRecord struct {
	Timestamp time.Time
	Host      string
	Program   string
	PID       int32
	Message   string
}

var (
	bsdSyslogPattern = regexp.MustCompile(`^([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^\s:\[]+)(?:\[(\d+)\])?:\s?(.*)$`)
	isoSyslogPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\S+)\s+(\S+)\s+([^\s:\[]+)(?:\[(\d+)\])?:\s?(.*)$`)

	sshdAuthPattern = regexp.MustCompile(`(Failed|Accepted) (\S+) for (invalid user )?(\S+) from (\S+) port (\d+)`)
	sshdInvalidUser = regexp.MustCompile(`Invalid user (\S*) from (\S+)(?: port (\d+))?`)
	sudoPattern     = regexp.MustCompile(`^\s*(\S+) : .*?(?:USER=(\S+) ; )?COMMAND=(.*)$`)
)

// SyslogParser tokenizes syslog lines. Traditional stamps carry no year, so the
// parser resolves them against a reference clock.
type SyslogParser struct {
	Location *time.Location
	Now      func() time.Time
}

func NewSyslogParser() *SyslogParser {
	return &SyslogParser{
		Location: time.Local,
		Now:      time.Now,
	}
}

func (p *SyslogParser) ParseLine(line string) (SyslogRecord, error) {
	if m := isoSyslogPattern.FindStringSubmatch(line); m != nil {
		ts, err := time.Parse(time.RFC3339Nano, m[1])
		if err != nil {
			return SyslogRecord{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, m[1])
		}
		return buildSyslogRecord(ts, m), nil
	}

	if m := bsdSyslogPattern.FindStringSubmatch(line); m != nil {
		ts, err := p.resolveBSDTime(m[1])
		if err != nil {
			return SyslogRecord{}, err
		}
		return buildSyslogRecord(ts, m), nil
	}

	return SyslogRecord{}, fmt.Errorf("%w: not a syslog line", ErrMalformed)
}

func (p *SyslogParser) resolveBSDTime(stamp string) (time.Time, error) {
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	// "Oct  9" has a padded day; collapse before parsing
	compact := strings.Join(strings.Fields(stamp), " ")
	parsed, err := time.ParseInLocation("Jan 2 15:04:05", compact, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, stamp)
	}

	ts := time.Date(now.In(loc).Year(), parsed.Month(), parsed.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, loc)

	// A December line read in January belongs to last year
	if ts.After(now.Add(24 * time.Hour)) {
		ts = ts.AddDate(-1, 0, 0)
	}

	return ts, nil
}

func buildSyslogRecord(ts time.Time, m []string) SyslogRecord {
	record := SyslogRecord{
		Timestamp: ts,
		Host:      m[2],
		Program:   m[3],
		Message:   m[5],
	}
	if m[4] != "" {
		if pid, err := strconv.ParseInt(m[4], 10, 32); err == nil {
			record.PID = int32(pid)
		}
	}
	return record
}

// SSHAuth is the interesting part of an sshd authentication line
type SSHAuth struct {
	Accepted bool
	Method   string
	User     string
	SourceIP string
	Port     int
	Invalid  bool
}

// ParseSSHAuth extracts login outcome, user and source address from an sshd message
func ParseSSHAuth(message string) (SSHAuth, bool) {
	if m := sshdAuthPattern.FindStringSubmatch(message); m != nil {
		port, _ := strconv.Atoi(m[6])
		return SSHAuth{
			Accepted: m[1] == "Accepted",
			Method:   m[2],
			Invalid:  m[3] != "",
			User:     m[4],
			SourceIP: m[5],
			Port:     port,
		}, true
	}

	if m := sshdInvalidUser.FindStringSubmatch(message); m != nil {
		port, _ := strconv.Atoi(m[3])
		return SSHAuth{
			Invalid:  true,
			User:     m[1],
			SourceIP: m[2],
			Port:     port,
		}, true
	}

	return SSHAuth{}, false
}

// SudoCommand is a sudo audit line
type SudoCommand struct {
	User       string
	TargetUser string
	Command    string
}

func ParseSudo(message string) (SudoCommand, bool) {
	m := sudoPattern.FindStringSubmatch(message)
	if m == nil {
		return SudoCommand{}, false
	}

	target := m[2]
	if target == "" {
		target = "root"
	}

	return SudoCommand{
		User:       m[1],
		TargetUser: target,
		Command:    strings.TrimSpace(m[3]),
	}, true
}
