package adapter

import (
	"errors"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/normaliser"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
	"go.uber.org/zap"
)

// normaliseLines turns parsed lines into events, logging each skipped line at debug level.
// Header lines are expected and not logged.
func normaliseLines[T any](logger *zap.Logger, lines []parser.Line[T], n normaliser.Normaliser[T]) ([]*models.Event, int) {
	events := make([]*models.Event, 0, len(lines))
	skipped := 0

	for _, line := range lines {
		if line.Skipped() {
			if !errors.Is(line.Err, parser.ErrHeader) {
				skipped++
				logger.Debug("Skipping unparseable record",
					zap.Int("line", line.Number),
					zap.Error(line.Err),
				)
			}
			continue
		}
		events = append(events, n.Normalise(line.Record, line.Text))
	}

	return events, skipped
}
