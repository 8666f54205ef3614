package detector

import (
	"context"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventstore"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"go.uber.org/zap"
)

const statisticalScore = 0.6

// StatisticalDetector compares the trailing hour's volume of an event type against its
// hourly average over the preceding seven days.
type StatisticalDetector struct {
	store      eventstore.Store
	logger     *zap.Logger
	current    time.Duration
	baseline   time.Duration
	multiplier float64
}

func NewStatisticalDetector(store eventstore.Store, logger *zap.Logger) *StatisticalDetector {
	return &StatisticalDetector{
		store:      store,
		logger:     logger,
		current:    time.Hour,
		baseline:   7 * 24 * time.Hour,
		multiplier: 3,
	}
}

func (d *StatisticalDetector) Name() string {
	return KindStatistical.String()
}

func (d *StatisticalDetector) Kind() Kind {
	return KindStatistical
}

func (d *StatisticalDetector) Score(ctx context.Context, event *models.Event) float64 {
	ts := event.Timestamp
	hourStart := ts.Add(-d.current)

	current, err := d.store.Count(ctx, eventstore.Query{
		Index:     eventstore.IndexEventType,
		Key:       event.EventType,
		From:      hourStart,
		To:        ts,
		ExcludeID: event.ID,
	})
	if err != nil {
		d.lookupFailed(err)
		return 0
	}

	// Baseline excludes the trailing hour
	historical, err := d.store.Count(ctx, eventstore.Query{
		Index:     eventstore.IndexEventType,
		Key:       event.EventType,
		From:      ts.Add(-d.baseline),
		To:        hourStart.Add(-time.Nanosecond),
		ExcludeID: event.ID,
	})
	if err != nil {
		d.lookupFailed(err)
		return 0
	}

	hours := (d.baseline - d.current).Hours()
	average := float64(historical) / hours
	if average <= 0 {
		return 0
	}

	if float64(current) > d.multiplier*average {
		return statisticalScore
	}
	return 0
}

func (d *StatisticalDetector) lookupFailed(err error) {
	d.logger.Warn("Statistical lookup failed, treating as no signal", zap.Error(err))
}
