// Package detector holds the independent heuristic signals the engine combines.
package detector

import (
	"context"
	"fmt"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

// Detector scores one event. A score of 0 means the signal did not fire.
// Detectors never return errors: a failed lookup is no signal.
type Detector interface {
	Name() string
	Kind() Kind
	Score(ctx context.Context, event *models.Event) float64
}

// Kind is the closed set of signal families
type Kind int

const (
	KindKeyword Kind = iota
	KindFrequency
	KindBehavioral
	KindNetwork
	KindStatistical
)

func (k Kind) String() string {
	switch k {
	case KindKeyword:
		return "keyword-match"
	case KindFrequency:
		return "frequency"
	case KindBehavioral:
		return "behavioral"
	case KindNetwork:
		return "network"
	case KindStatistical:
		return "statistical"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// AllKinds lists every signal family in reporting order
func AllKinds() []Kind {
	return []Kind{KindKeyword, KindFrequency, KindBehavioral, KindNetwork, KindStatistical}
}
