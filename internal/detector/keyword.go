package detector

import (
	"context"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

// KeywordDetector matches the message against the threat dictionary's regex categories
// and returns the highest category score that matched.
type KeywordDetector struct {
	categories []config.CompiledCategory
}

func NewKeywordDetector(threats *config.Threats) *KeywordDetector {
	return &KeywordDetector{
		categories: threats.KeywordCategories(),
	}
}

func (d *KeywordDetector) Name() string {
	return KindKeyword.String()
}

func (d *KeywordDetector) Kind() Kind {
	return KindKeyword
}

func (d *KeywordDetector) Score(ctx context.Context, event *models.Event) float64 {
	score, _ := d.Match(event)
	return score
}

// Match also reports which categories hit, for evidence
func (d *KeywordDetector) Match(event *models.Event) (float64, []string) {
	texts := []string{event.Message()}
	if event.RawMessage != "" && event.RawMessage != event.NormalizedMessage {
		texts = append(texts, event.RawMessage)
	}

	var best float64
	var matched []string

	for _, category := range d.categories {
		if !matchesAny(category, texts) {
			continue
		}
		matched = append(matched, category.Name)
		if category.Score > best {
			best = category.Score
		}
	}

	return best, matched
}

func matchesAny(category config.CompiledCategory, texts []string) bool {
	for _, re := range category.Patterns {
		for _, text := range texts {
			if re.MatchString(text) {
				return true
			}
		}
	}
	return false
}
