package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/normaliser"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
	"go.uber.org/zap"
)

const tailChunkSize = 8 * 1024

// SyslogAdapter tails the last N lines of each known log file
type SyslogAdapter struct {
	files     []string
	tailLines int
	host      models.HostIdentity
	parser    *parser.SyslogParser
	logger    *zap.Logger
}

func NewSyslogAdapter(files []string, tailLines int, host models.HostIdentity, logger *zap.Logger) *SyslogAdapter {
	return &SyslogAdapter{
		files:     files,
		tailLines: tailLines,
		host:      host,
		parser:    parser.NewSyslogParser(),
		logger:    logger,
	}
}

func (a *SyslogAdapter) Name() string {
	return "unix-syslog"
}

func (a *SyslogAdapter) Source() models.SourceSystem {
	return models.SourceLinux
}

func (a *SyslogAdapter) Collect(ctx context.Context) ([]*models.Event, error) {
	var events []*models.Event
	readable := 0

	for _, file := range a.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := tailFile(file, a.tailLines)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				a.logger.Debug("Syslog file not present", zap.String("file", file))
			} else {
				a.logger.Warn("Cannot read syslog file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		readable++

		lines := parser.ParseLines(string(data), a.parser.ParseLine)
		fileEvents, skipped := normaliseLines(a.logger.With(zap.String("file", file)), lines, &normaliser.SyslogNormaliser{File: file, Host: a.host})
		events = append(events, fileEvents...)

		a.logger.Debug("Tailed syslog file",
			zap.String("file", file),
			zap.Int("events", len(fileEvents)),
			zap.Int("skipped", skipped),
		)
	}

	if readable == 0 {
		return nil, fmt.Errorf("%w: none of %d syslog files readable", ErrSourceUnavailable, len(a.files))
	}

	return events, nil
}

// tailFile returns the last n lines of a file, reading backwards in chunks
func tailFile(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	var buf []byte
	offset := size

	for offset > 0 {
		chunk := int64(tailChunkSize)
		if offset < chunk {
			chunk = offset
		}
		offset -= chunk

		block := make([]byte, chunk)
		if _, err := f.ReadAt(block, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(block, buf...)

		// One extra newline for a trailing terminator
		if bytes.Count(buf, []byte{'\n'}) > n {
			break
		}
	}

	buf = bytes.TrimRight(buf, "\n")
	if idx := nthLastIndex(buf, '\n', n); idx >= 0 {
		buf = buf[idx+1:]
	}

	return buf, nil
}

// nthLastIndex finds the n-th newline counting from the end, -1 if there are fewer
func nthLastIndex(buf []byte, sep byte, n int) int {
	count := 0
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] == sep {
			count++
			if count == n {
				return i
			}
		}
	}
	return -1
}
