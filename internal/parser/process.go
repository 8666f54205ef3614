package parser

import (
	"encoding/csv"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ProcessRecord is one row of a process table, whatever the platform
type ProcessRecord struct {
	User       string
	PID        int32
	CPUPercent float64
	MemPercent float64
	MemoryKB   int64
	TTY        string
	State      string
	Started    string
	Name       string
	Command    string
	Session    string
}

const psAuxColumns = 11

// ParsePSAuxLine tokenizes one `ps aux` row:
// USER PID %CPU %MEM VSZ RSS TTY STAT START TIME COMMAND...
func ParsePSAuxLine(line string) (ProcessRecord, error) {
	fields := strings.Fields(line)
	if len(fields) > 1 && fields[0] == "USER" && fields[1] == "PID" {
		return ProcessRecord{}, ErrHeader
	}

	if len(fields) < psAuxColumns {
		return ProcessRecord{}, fmt.Errorf("%w: expected %d columns, got %d", ErrMalformed, psAuxColumns, len(fields))
	}

	pid, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return ProcessRecord{}, fmt.Errorf("%w: bad pid %q", ErrMalformed, fields[1])
	}

	cpu, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return ProcessRecord{}, fmt.Errorf("%w: bad cpu %q", ErrMalformed, fields[2])
	}

	mem, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return ProcessRecord{}, fmt.Errorf("%w: bad mem %q", ErrMalformed, fields[3])
	}

	rss, _ := strconv.ParseInt(fields[5], 10, 64)
	command := strings.Join(fields[10:], " ")

	return ProcessRecord{
		User:       fields[0],
		PID:        int32(pid),
		CPUPercent: cpu,
		MemPercent: mem,
		MemoryKB:   rss,
		TTY:        fields[6],
		State:      fields[7],
		Started:    fields[8],
		Name:       processName(fields[10]),
		Command:    command,
	}, nil
}

// ParseTasklistLine tokenizes one `tasklist /fo csv /nh` row:
// "Image Name","PID","Session Name","Session#","Mem Usage"
func ParseTasklistLine(line string) (ProcessRecord, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1

	fields, err := reader.Read()
	if err != nil {
		return ProcessRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if len(fields) < 2 {
		return ProcessRecord{}, fmt.Errorf("%w: expected at least 2 columns, got %d", ErrMalformed, len(fields))
	}

	if fields[0] == "Image Name" {
		return ProcessRecord{}, ErrHeader
	}

	pid, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 32)
	if err != nil {
		return ProcessRecord{}, fmt.Errorf("%w: bad pid %q", ErrMalformed, fields[1])
	}

	record := ProcessRecord{
		PID:     int32(pid),
		Name:    fields[0],
		Command: fields[0],
	}

	if len(fields) > 2 {
		record.Session = fields[2]
	}
	if len(fields) > 4 {
		record.MemoryKB = parseKilobytes(fields[4])
	}

	return record, nil
}

// processName strips path and kernel-thread brackets from an argv[0]
func processName(argv0 string) string {
	name := strings.Trim(argv0, "[]")
	if strings.Contains(name, "/") {
		name = path.Base(name)
	}
	return name
}

// parseKilobytes reads "150,000 K" or "150.000 K" style memory columns
func parseKilobytes(value string) int64 {
	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	kb, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0
	}
	return kb
}
