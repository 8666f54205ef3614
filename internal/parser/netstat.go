package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// NetstatLayout selects the column layout of a connection table
type NetstatLayout int

const (
	// NetstatUnix is `netstat -an` on Linux and BSD: proto recv-q send-q local foreign [state]
	NetstatUnix NetstatLayout = iota
	// NetstatWindows is `netstat -ano`: proto local foreign [state] pid
	NetstatWindows
)

func (l NetstatLayout) String() string {
	switch l {
	case NetstatUnix:
		return "unix"
	case NetstatWindows:
		return "windows"
	default:
		return "unknown"
	}
}

// ConnectionRecord is one socket from a connection table
type ConnectionRecord struct {
	Protocol   string
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	State      string
	PID        int32
}

// ParseNetstatLine tokenizes one row of the given layout
func ParseNetstatLine(layout NetstatLayout, line string) (ConnectionRecord, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ConnectionRecord{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	if isNetstatHeader(fields) {
		return ConnectionRecord{}, ErrHeader
	}

	proto := strings.ToLower(fields[0])
	if !strings.HasPrefix(proto, "tcp") && !strings.HasPrefix(proto, "udp") {
		return ConnectionRecord{}, fmt.Errorf("%w: protocol %q", ErrUnsupported, fields[0])
	}

	switch layout {
	case NetstatUnix:
		return parseUnixNetstat(proto, fields)
	case NetstatWindows:
		return parseWindowsNetstat(proto, fields)
	default:
		return ConnectionRecord{}, fmt.Errorf("%w: layout %d", ErrUnsupported, layout)
	}
}

func parseUnixNetstat(proto string, fields []string) (ConnectionRecord, error) {
	if len(fields) < 5 {
		return ConnectionRecord{}, fmt.Errorf("%w: expected at least 5 columns, got %d", ErrMalformed, len(fields))
	}

	record, err := newConnectionRecord(proto, fields[3], fields[4])
	if err != nil {
		return ConnectionRecord{}, err
	}

	if len(fields) > 5 {
		record.State = strings.ToUpper(fields[5])
	}

	return record, nil
}

func parseWindowsNetstat(proto string, fields []string) (ConnectionRecord, error) {
	if len(fields) < 4 {
		return ConnectionRecord{}, fmt.Errorf("%w: expected at least 4 columns, got %d", ErrMalformed, len(fields))
	}

	record, err := newConnectionRecord(proto, fields[1], fields[2])
	if err != nil {
		return ConnectionRecord{}, err
	}

	// UDP rows have no state column
	pidField := fields[len(fields)-1]
	if len(fields) >= 5 {
		record.State = strings.ToUpper(fields[3])
	}

	pid, err := strconv.ParseInt(pidField, 10, 32)
	if err != nil {
		return ConnectionRecord{}, fmt.Errorf("%w: bad pid %q", ErrMalformed, pidField)
	}
	record.PID = int32(pid)

	return record, nil
}

func newConnectionRecord(proto, local, remote string) (ConnectionRecord, error) {
	localIP, localPort, err := splitHostPort(local)
	if err != nil {
		return ConnectionRecord{}, err
	}

	remoteIP, remotePort, err := splitHostPort(remote)
	if err != nil {
		return ConnectionRecord{}, err
	}

	return ConnectionRecord{
		Protocol:   strings.TrimRight(proto, "46"),
		LocalIP:    localIP,
		LocalPort:  localPort,
		RemoteIP:   remoteIP,
		RemotePort: remotePort,
	}, nil
}

// splitHostPort handles "1.2.3.4:22", "[::1]:22", ":::22", "*:*" and the BSD "1.2.3.4.22"
func splitHostPort(addr string) (string, int, error) {
	sep := strings.LastIndex(addr, ":")
	if sep < 0 {
		sep = strings.LastIndex(addr, ".")
	}
	if sep < 0 {
		return "", 0, fmt.Errorf("%w: bad address %q", ErrMalformed, addr)
	}

	host := strings.Trim(addr[:sep], "[]")
	portText := addr[sep+1:]

	if portText == "*" {
		return host, 0, nil
	}

	port, err := strconv.Atoi(portText)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: bad port in %q", ErrMalformed, addr)
	}

	return host, port, nil
}

func isNetstatHeader(fields []string) bool {
	switch fields[0] {
	case "Active", "Proto", "Netid":
		return true
	}
	return false
}
