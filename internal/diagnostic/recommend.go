package diagnostic

import (
	"sort"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// DefaultRecommendationThreshold is the number of true Stage-Two answers
// from which the paid tiers are recommended
const DefaultRecommendationThreshold = 2

// RankedOption is a service option with its recommendation flag
type RankedOption struct {
	models.ServiceOption
	Recommended bool `json:"recommended"`
}

// Recommendation orders the whole service catalog for display
type Recommendation struct {
	AreaID      models.LawAreaID     `json:"area_id"`
	Affirmative int                  `json:"affirmative_answers"`
	Tiers       []models.ServiceTier `json:"tiers"`
	Options     []RankedOption       `json:"options"`
}

// Recommend picks the premium chat and specialist tiers when at least
// threshold Stage-Two answers were true, the auto-assistance tier
// otherwise. Recommended options move to the front; nothing is dropped.
func Recommend(area models.LawArea, affirmative int, options []models.ServiceOption, threshold int) Recommendation {
	if threshold <= 0 {
		threshold = DefaultRecommendationThreshold
	}

	tiers := []models.ServiceTier{models.TierAutoAssistance}
	if affirmative >= threshold {
		tiers = []models.ServiceTier{models.TierPremiumChat, models.TierSpecialist}
	}

	wanted := make(map[models.ServiceTier]bool, len(tiers))
	for _, t := range tiers {
		wanted[t] = true
	}

	ranked := make([]RankedOption, 0, len(options))
	for _, opt := range options {
		ranked = append(ranked, RankedOption{ServiceOption: opt, Recommended: wanted[opt.Tier]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Recommended && !ranked[j].Recommended
	})

	return Recommendation{
		AreaID:      area.ID,
		Affirmative: affirmative,
		Tiers:       tiers,
		Options:     ranked,
	}
}
