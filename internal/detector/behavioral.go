package detector

import (
	"context"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

const (
	offHoursScore        = 0.6
	sensitiveAccessScore = 0.5
)

// BehavioralDetector flags login or process activity outside working hours and file
// access by shell-class processes.
type BehavioralDetector struct {
	threats  *config.Threats
	location *time.Location
}

func NewBehavioralDetector(threats *config.Threats) *BehavioralDetector {
	return &BehavioralDetector{
		threats:  threats,
		location: time.Local,
	}
}

func (d *BehavioralDetector) Name() string {
	return KindBehavioral.String()
}

func (d *BehavioralDetector) Kind() Kind {
	return KindBehavioral
}

// SetLocation sets the zone working hours are judged in
func (d *BehavioralDetector) SetLocation(loc *time.Location) {
	d.location = loc
}

func (d *BehavioralDetector) Score(ctx context.Context, event *models.Event) float64 {
	var score float64

	if isLoginOrProcess(event.EventType) && d.threats.IsOffHours(event.Timestamp.In(d.location).Hour()) {
		score = offHoursScore
	}

	if event.EventType == models.EventFileAccess && d.threats.IsSensitiveProcess(event.Process.Name) {
		if sensitiveAccessScore > score {
			score = sensitiveAccessScore
		}
	}

	return score
}

func isLoginOrProcess(eventType string) bool {
	return strings.HasPrefix(eventType, "LOGIN") || strings.HasPrefix(eventType, "PROCESS")
}
