package entitlements

import (
	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
)

// DefaultRows mirrors the feature_entitlements seed. The catalog falls back to
// it when a tier has no rows, and tests seed sqlite from it.
func DefaultRows() []models.FeatureEntitlement {
	allSchedules := "daily,weekly_days,weekly_target"
	rows := []models.FeatureEntitlement{}
	add := func(tier enums.SubscriptionTier, key string, row models.FeatureEntitlement) {
		row.Tier, row.FeatureKey = tier, key
		rows = append(rows, row)
	}
	num := func(n int) models.FeatureEntitlement { return models.FeatureEntitlement{IntValue: &n} }
	flag := func(b bool) models.FeatureEntitlement { return models.FeatureEntitlement{BoolValue: &b} }
	text := func(s string) models.FeatureEntitlement { return models.FeatureEntitlement{TextValue: &s} }

	free, plus, pro := enums.SubscriptionTierFree, enums.SubscriptionTierPlus, enums.SubscriptionTierPro

	add(free, FeatureMaxHabits, num(3))
	add(free, FeatureScheduleTypes, text("daily"))
	add(free, FeatureAnalyticsDays, num(7))
	add(free, FeatureHeatmapMonths, num(1))
	add(free, FeatureAIInsightsPerWeek, text(textDisabled))
	add(free, FeatureMaxReminders, num(1))
	add(free, FeatureDataExport, flag(false))

	add(plus, FeatureMaxHabits, num(15))
	add(plus, FeatureScheduleTypes, text(allSchedules))
	add(plus, FeatureAnalyticsDays, num(30))
	add(plus, FeatureHeatmapMonths, num(6))
	add(plus, FeatureAIInsightsPerWeek, num(1))
	add(plus, FeatureMaxReminders, text(textUnlimited))
	add(plus, FeatureDataExport, flag(false))

	add(pro, FeatureMaxHabits, text(textUnlimited))
	add(pro, FeatureScheduleTypes, text(allSchedules))
	add(pro, FeatureAnalyticsDays, num(365))
	add(pro, FeatureHeatmapMonths, num(12))
	add(pro, FeatureAIInsightsPerWeek, text(textUnlimited))
	add(pro, FeatureMaxReminders, text(textUnlimited))
	add(pro, FeatureDataExport, flag(true))

	return rows
}

func defaultRowsFor(tier enums.SubscriptionTier) []models.FeatureEntitlement {
	out := []models.FeatureEntitlement{}
	for _, row := range DefaultRows() {
		if row.Tier == tier {
			out = append(out, row)
		}
	}
	return out
}
