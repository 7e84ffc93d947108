package diagnostic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

func testServices() []models.ServiceOption {
	return []models.ServiceOption{
		{ID: "auto-assistance", Title: "Asistencia automática", Action: models.ActionChatRedirect, Tier: models.TierAutoAssistance},
		{ID: "premium-chat", Title: "Chat premium", Price: 49000, Action: models.ActionChatRedirect, Tier: models.TierPremiumChat},
		{ID: "specialist", Title: "Especialista", Price: 250000, Action: models.ActionContactForm, Tier: models.TierSpecialist},
		{ID: "legal-guides", Title: "Guías", Action: models.ActionInformational, Tier: models.TierGeneral},
	}
}

func recommendedIDs(r Recommendation) []string {
	var ids []string
	for _, o := range r.Options {
		if o.Recommended {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

func TestRecommend_ThresholdReachedPicksPaidTiers(t *testing.T) {
	r := Recommend(labor, 2, testServices(), 2)

	assert.Equal(t, []models.ServiceTier{models.TierPremiumChat, models.TierSpecialist}, r.Tiers)
	assert.Equal(t, []string{"premium-chat", "specialist"}, recommendedIDs(r))
	require.Len(t, r.Options, 4)
	assert.Equal(t, "premium-chat", r.Options[0].ID)
	assert.Equal(t, "specialist", r.Options[1].ID)
	assert.Equal(t, "auto-assistance", r.Options[2].ID, "others keep catalog order")
	assert.Equal(t, models.AreaLabor, r.AreaID)
}

func TestRecommend_BelowThresholdPicksAutoAssistance(t *testing.T) {
	for _, affirmative := range []int{0, 1} {
		r := Recommend(labor, affirmative, testServices(), 2)
		assert.Equal(t, []models.ServiceTier{models.TierAutoAssistance}, r.Tiers)
		assert.Equal(t, []string{"auto-assistance"}, recommendedIDs(r))
		assert.Len(t, r.Options, 4, "nothing is dropped")
	}
}

func TestRecommend_NonPositiveThresholdUsesDefault(t *testing.T) {
	r := Recommend(labor, DefaultRecommendationThreshold, testServices(), 0)
	assert.Equal(t, []models.ServiceTier{models.TierPremiumChat, models.TierSpecialist}, r.Tiers)

	r = Recommend(labor, DefaultRecommendationThreshold-1, testServices(), -3)
	assert.Equal(t, []models.ServiceTier{models.TierAutoAssistance}, r.Tiers)
}

func TestRecommend_EmptyCatalog(t *testing.T) {
	r := Recommend(labor, 5, nil, 2)
	assert.Empty(t, r.Options)
	assert.NotEmpty(t, r.Tiers)
}
