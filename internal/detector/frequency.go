package detector

import (
	"context"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventstore"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"go.uber.org/zap"
)

// FrequencyDetector counts recent failures from the same source and recent anomalies
// from the same user. Counts are of events already recorded, excluding the one scored.
type FrequencyDetector struct {
	store  eventstore.Store
	window time.Duration
	logger *zap.Logger

	failureHigh      int
	failureModerate  int
	userAnomalyLimit int
}

func NewFrequencyDetector(store eventstore.Store, logger *zap.Logger) *FrequencyDetector {
	return &FrequencyDetector{
		store:            store,
		window:           5 * time.Minute,
		logger:           logger,
		failureHigh:      10,
		failureModerate:  5,
		userAnomalyLimit: 5,
	}
}

func (d *FrequencyDetector) Name() string {
	return KindFrequency.String()
}

func (d *FrequencyDetector) Kind() Kind {
	return KindFrequency
}

func (d *FrequencyDetector) Score(ctx context.Context, event *models.Event) float64 {
	var score float64

	if event.EventType == models.EventLoginFailure && event.Network.SrcIP != "" {
		failures := d.count(ctx, event, eventstore.IndexFailedLoginBySource, event.Network.SrcIP)
		switch {
		case failures > d.failureHigh:
			score = 0.9
		case failures > d.failureModerate:
			score = 0.7
		}
	}

	if event.User.Name != "" {
		anomalies := d.count(ctx, event, eventstore.IndexAnomalyByUser, event.User.Name)
		if anomalies > d.userAnomalyLimit && score < 0.8 {
			score = 0.8
		}
	}

	return score
}

func (d *FrequencyDetector) count(ctx context.Context, event *models.Event, index eventstore.Index, key string) int {
	n, err := d.store.Count(ctx, eventstore.Query{
		Index:     index,
		Key:       key,
		From:      event.Timestamp.Add(-d.window),
		To:        event.Timestamp,
		ExcludeID: event.ID,
	})
	if err != nil {
		d.logger.Warn("Frequency lookup failed, treating as no signal",
			zap.String("index", index.String()),
			zap.Error(err),
		)
		return 0
	}
	return n
}
