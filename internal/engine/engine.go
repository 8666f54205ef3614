// Package engine combines the detector signals into one anomaly verdict.
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/detector"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventstore"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"go.uber.org/zap"
)

const (
	// AnomalyThreshold is strict: a combined score of exactly 0.6 is not an anomaly
	AnomalyThreshold = 0.6

	criticalAbove = 0.9
	highAbove     = 0.7

	sourceSignalName = "source"
)

// Signal is one detector that fired
type Signal struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Verdict is the combined outcome for one event
type Verdict struct {
	IsAnomaly   bool               `json:"is_anomaly"`
	Score       float64            `json:"score"`
	Reason      string             `json:"reason,omitempty"`
	ThreatLevel models.ThreatLevel `json:"threat_level,omitempty"`
	Signals     []Signal           `json:"signals,omitempty"`
}

// Engine populated of detectors
type Engine struct {
	detectors []detector.Detector
	logger    *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		detectors: make([]detector.Detector, 0),
		logger:    logger,
	}
}

// NewDefaultEngine registers the five standard detectors
func NewDefaultEngine(threats *config.Threats, store eventstore.Store, logger *zap.Logger) *Engine {
	e := NewEngine(logger)

	for _, kind := range detector.AllKinds() {
		switch kind {
		case detector.KindKeyword:
			e.RegisterDetector(detector.NewKeywordDetector(threats))
		case detector.KindFrequency:
			e.RegisterDetector(detector.NewFrequencyDetector(store, logger))
		case detector.KindBehavioral:
			e.RegisterDetector(detector.NewBehavioralDetector(threats))
		case detector.KindNetwork:
			e.RegisterDetector(detector.NewNetworkDetector(threats))
		case detector.KindStatistical:
			e.RegisterDetector(detector.NewStatisticalDetector(store, logger))
		}
	}

	return e
}

func (e *Engine) RegisterDetector(d detector.Detector) {
	e.detectors = append(e.detectors, d)
	e.logger.Debug("Registered detector", zap.String("name", d.Name()), zap.Stringer("kind", d.Kind()))
}

// GetRegisteredDetectors returns detector names in registration order
func (e *Engine) GetRegisteredDetectors() []string {
	names := make([]string, len(e.detectors))
	for i, d := range e.detectors {
		names[i] = d.Name()
	}
	return names
}

// Score runs every detector and combines the ones that fired. The event is not modified.
func (e *Engine) Score(ctx context.Context, event *models.Event) Verdict {
	signals := make([]Signal, 0, len(e.detectors))

	for _, d := range e.detectors {
		if score := e.runDetector(ctx, d, event); score > 0 {
			signals = append(signals, Signal{Name: d.Name(), Score: score})
		}
	}

	return Combine(signals, event.SourceScore)
}

// Evaluate scores the event and writes the verdict onto it
func (e *Engine) Evaluate(ctx context.Context, event *models.Event) Verdict {
	verdict := e.Score(ctx, event)
	Apply(event, verdict)

	if verdict.IsAnomaly {
		e.logger.Info("Anomaly detected",
			zap.String("event_id", event.ID),
			zap.String("source", string(event.Source)),
			zap.String("event_type", event.EventType),
			zap.Float64("score", verdict.Score),
			zap.String("threat_level", string(verdict.ThreatLevel)),
			zap.String("reason", verdict.Reason),
		)
	}

	return verdict
}

// runDetector isolates a misbehaving detector: a panic or out-of-range score is no signal
func (e *Engine) runDetector(ctx context.Context, d detector.Detector, event *models.Event) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Detector panicked", zap.String("detector", d.Name()), zap.Any("panic", r))
			score = 0
		}
	}()

	score = d.Score(ctx, event)
	if math.IsNaN(score) || score < 0 || score > 1 {
		e.logger.Warn("Detector returned out-of-range score", zap.String("detector", d.Name()), zap.Float64("score", score))
		return 0
	}
	return score
}

// Combine takes the mean of the fired signals, then lets a higher adapter pre-flag win
func Combine(signals []Signal, sourceScore float64) Verdict {
	var sum float64
	for _, s := range signals {
		sum += s.Score
	}

	var final float64
	if len(signals) > 0 {
		final = round(sum / float64(len(signals)))
	}

	reasons := make([]string, 0, len(signals)+1)
	for _, s := range signals {
		reasons = append(reasons, formatSignal(s))
	}

	if sourceScore > final {
		final = round(sourceScore)
		reasons = append(reasons, formatSignal(Signal{Name: sourceSignalName, Score: sourceScore}))
	}

	verdict := Verdict{
		Score:   final,
		Reason:  strings.Join(reasons, "; "),
		Signals: signals,
	}

	if final > AnomalyThreshold {
		verdict.IsAnomaly = true
		verdict.ThreatLevel = ThreatLevelFor(final)
	}

	return verdict
}

// ThreatLevelFor buckets an anomalous score
func ThreatLevelFor(score float64) models.ThreatLevel {
	switch {
	case score > criticalAbove:
		return models.ThreatCritical
	case score > highAbove:
		return models.ThreatHigh
	default:
		return models.ThreatMedium
	}
}

// Apply writes the verdict's detection fields onto the event
func Apply(event *models.Event, verdict Verdict) {
	event.IsAnomaly = verdict.IsAnomaly
	event.AnomalyScore = verdict.Score
	event.AnomalyReason = verdict.Reason
	event.DetectionAlgorithm = models.AlgorithmMultiLayer
	event.ThreatLevel = verdict.ThreatLevel
}

func formatSignal(s Signal) string {
	return fmt.Sprintf("%s(%.2f)", s.Name, s.Score)
}

// round to 4 places so float error cannot push a mean across a strict boundary
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
