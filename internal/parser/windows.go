package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WindowsRecord is one event from `Get-WinEvent | ConvertTo-Json`
type WindowsRecord struct {
	EventID     int
	TimeCreated time.Time
	Provider    string
	Level       int
	LevelName   string
	LogName     string
	Machine     string
	Message     string
	ProcessID   int32
	ThreadID    int32
	UserID      string

	// Raw is the full decoded record, copied into the event payload
	Raw map[string]interface{}
}

type winEventJSON struct {
	ID               int             `json:"Id"`
	TimeCreated      json.RawMessage `json:"TimeCreated"`
	ProviderName     string          `json:"ProviderName"`
	Level            int             `json:"Level"`
	LevelDisplayName string          `json:"LevelDisplayName"`
	LogName          string          `json:"LogName"`
	MachineName      string          `json:"MachineName"`
	Message          string          `json:"Message"`
	ProcessID        int32           `json:"ProcessId"`
	ThreadID         int32           `json:"ThreadId"`
	UserID           json.RawMessage `json:"UserId"`
}

// ParseWindowsEvents splits ConvertTo-Json output, which is an array for many events
// and a bare object for exactly one, into per-record outcomes.
// Only a document that is not JSON at all is an error.
func ParseWindowsEvents(data []byte) ([]Line[WindowsRecord], error) {
	data = bytes.TrimSpace(data)
	// PowerShell 5 may prefix a UTF-8 BOM
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(data) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("failed to decode event array: %w", err)
		}
	case '{':
		raws = []json.RawMessage{data}
	default:
		return nil, fmt.Errorf("%w: output is not JSON", ErrMalformed)
	}

	lines := make([]Line[WindowsRecord], 0, len(raws))
	for i, raw := range raws {
		record, err := ParseWindowsRecord(raw)
		lines = append(lines, Line[WindowsRecord]{
			Number: i + 1,
			Text:   string(raw),
			Record: record,
			Err:    err,
		})
	}

	return lines, nil
}

// ParseWindowsRecord decodes a single event object
func ParseWindowsRecord(raw []byte) (WindowsRecord, error) {
	var decoded winEventJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return WindowsRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return WindowsRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if decoded.ID == 0 && decoded.ProviderName == "" {
		return WindowsRecord{}, fmt.Errorf("%w: record has no Id or ProviderName", ErrMalformed)
	}

	created, err := parseWinTime(decoded.TimeCreated)
	if err != nil {
		return WindowsRecord{}, err
	}

	return WindowsRecord{
		EventID:     decoded.ID,
		TimeCreated: created,
		Provider:    decoded.ProviderName,
		Level:       decoded.Level,
		LevelName:   decoded.LevelDisplayName,
		LogName:     decoded.LogName,
		Machine:     decoded.MachineName,
		Message:     decoded.Message,
		ProcessID:   decoded.ProcessID,
		ThreadID:    decoded.ThreadID,
		UserID:      parseWinUserID(decoded.UserID),
		Raw:         payload,
	}, nil
}

// parseWinTime accepts "/Date(1697700000000)/" from Windows PowerShell and
// ISO 8601 strings from PowerShell 7
func parseWinTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		// {"value": "/Date(...)/", "DateTime": "..."} from older serializers
		var wrapped struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return time.Time{}, fmt.Errorf("%w: bad TimeCreated %s", ErrMalformed, string(raw))
		}
		text = wrapped.Value
	}

	if strings.HasPrefix(text, "/Date(") {
		body := strings.TrimSuffix(strings.TrimPrefix(text, "/Date("), ")/")
		end := len(body)
		for i, r := range body {
			if i > 0 && (r == '+' || r == '-') {
				end = i
				break
			}
		}

		ms, err := strconv.ParseInt(body[:end], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad TimeCreated %q", ErrMalformed, text)
		}
		return time.UnixMilli(ms), nil
	}

	ts, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad TimeCreated %q", ErrMalformed, text)
	}
	return ts, nil
}

// parseWinUserID handles both a bare SID string and the {"Value": "S-1-..."} object
func parseWinUserID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var sid string
	if err := json.Unmarshal(raw, &sid); err == nil {
		return sid
	}

	var wrapped struct {
		Value string `json:"Value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Value
	}

	return ""
}
