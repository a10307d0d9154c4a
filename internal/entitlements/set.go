package entitlements

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
)

// Feature keys stored in feature_entitlements.
const (
	FeatureMaxHabits         = "max_habits"
	FeatureScheduleTypes     = "schedule_types"
	FeatureAnalyticsDays     = "analytics_days"
	FeatureHeatmapMonths     = "heatmap_months"
	FeatureAIInsightsPerWeek = "ai_insights_per_week"
	FeatureMaxReminders      = "max_reminders"
	FeatureDataExport        = "data_export"
)

const (
	textUnlimited = "unlimited"
	textDisabled  = "disabled"
)

// LimitMode distinguishes bounded quotas from the two sentinel states.
type LimitMode uint8

const (
	LimitBounded LimitMode = iota
	LimitUnlimited
	LimitDisabled
)

// Limit is a quota that is a count, unlimited, or disabled.
type Limit struct {
	Mode  LimitMode
	Value int
}

func Bounded(n int) Limit { return Limit{Mode: LimitBounded, Value: n} }
func Unlimited() Limit    { return Limit{Mode: LimitUnlimited} }
func Disabled() Limit     { return Limit{Mode: LimitDisabled} }

// Allows reports whether a user holding count items may add one more.
func (l Limit) Allows(count int) bool {
	switch l.Mode {
	case LimitUnlimited:
		return true
	case LimitDisabled:
		return false
	default:
		return count < l.Value
	}
}

// Cap returns how many items fit under the limit and whether it is bounded at all.
func (l Limit) Cap() (int, bool) {
	switch l.Mode {
	case LimitUnlimited:
		return 0, false
	case LimitDisabled:
		return 0, true
	default:
		return l.Value, true
	}
}

func (l Limit) MarshalJSON() ([]byte, error) {
	switch l.Mode {
	case LimitUnlimited:
		return json.Marshal(textUnlimited)
	case LimitDisabled:
		return json.Marshal(textDisabled)
	default:
		return json.Marshal(l.Value)
	}
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		switch text {
		case textUnlimited:
			*l = Unlimited()
		case textDisabled:
			*l = Disabled()
		default:
			return fmt.Errorf("unknown limit %q", text)
		}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("limit must be a number or sentinel: %w", err)
	}
	*l = Bounded(n)
	return nil
}

// Set is the resolved feature-limit record for a tier.
type Set struct {
	Tier              enums.SubscriptionTier `json:"tier"`
	MaxHabits         Limit                  `json:"max_habits"`
	ScheduleTypes     []string               `json:"schedule_types"`
	AnalyticsDays     int                    `json:"analytics_days"`
	HeatmapMonths     int                    `json:"heatmap_months"`
	AIInsightsPerWeek Limit                  `json:"ai_insights_per_week"`
	MaxReminders      Limit                  `json:"max_reminders"`
	DataExport        bool                   `json:"data_export"`
	Extra             map[string]any         `json:"extra,omitempty"`
}

// AllowsSchedule reports whether scheduleType is available on the tier.
func (s Set) AllowsSchedule(scheduleType string) bool {
	for _, candidate := range s.ScheduleTypes {
		if candidate == scheduleType {
			return true
		}
	}
	return false
}

func (s Set) clone() Set {
	out := s
	out.ScheduleTypes = append([]string(nil), s.ScheduleTypes...)
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// BuildSet folds the feature rows of one tier into a Set. Unknown keys land in Extra.
func BuildSet(tier enums.SubscriptionTier, rows []models.FeatureEntitlement) Set {
	set := Set{
		Tier:              tier,
		MaxHabits:         Disabled(),
		AIInsightsPerWeek: Disabled(),
		MaxReminders:      Disabled(),
		ScheduleTypes:     []string{},
	}
	for _, row := range rows {
		switch row.FeatureKey {
		case FeatureMaxHabits:
			set.MaxHabits = limitFromRow(row)
		case FeatureAIInsightsPerWeek:
			set.AIInsightsPerWeek = limitFromRow(row)
		case FeatureMaxReminders:
			set.MaxReminders = limitFromRow(row)
		case FeatureScheduleTypes:
			set.ScheduleTypes = splitList(row.TextValue)
		case FeatureAnalyticsDays:
			set.AnalyticsDays = intValue(row.IntValue)
		case FeatureHeatmapMonths:
			set.HeatmapMonths = intValue(row.IntValue)
		case FeatureDataExport:
			set.DataExport = row.BoolValue != nil && *row.BoolValue
		default:
			if set.Extra == nil {
				set.Extra = map[string]any{}
			}
			set.Extra[row.FeatureKey] = rawValue(row)
		}
	}
	return set
}

func limitFromRow(row models.FeatureEntitlement) Limit {
	if row.TextValue != nil {
		switch strings.TrimSpace(*row.TextValue) {
		case textUnlimited:
			return Unlimited()
		case textDisabled:
			return Disabled()
		}
	}
	if row.IntValue != nil {
		return Bounded(*row.IntValue)
	}
	return Disabled()
}

func splitList(value *string) []string {
	out := []string{}
	if value == nil {
		return out
	}
	for _, part := range strings.Split(*value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func rawValue(row models.FeatureEntitlement) any {
	switch {
	case row.IntValue != nil:
		return *row.IntValue
	case row.BoolValue != nil:
		return *row.BoolValue
	case row.TextValue != nil:
		return *row.TextValue
	default:
		return nil
	}
}
