// Package pricing derives a job's total from service type, property size
// and subscription tier, and splits it into the released and escrow shares.
// All functions are pure; money is integer naira.
package pricing

import (
	"fmt"
	"math"

	"luvia/internal/domain"
)

// PointsPerNaira is the redemption rate: 100 points buy 1 naira off.
const PointsPerNaira = 100

// Demand factor bounds for the admin global multiplier.
const (
	MinFactor = 1.0
	MaxFactor = 3.0
)

var baseRates = map[domain.ServiceType]int64{
	domain.ServiceCleaning:  15000,
	domain.ServiceTechnical: 25000,
}

var sizeMultipliers = map[string]float64{
	"Small (1-2 Rooms)":  1.0,
	"Small":              1.0,
	"Medium (3-4 Rooms)": 1.5,
	"Medium":             1.5,
	"Large (5+ Rooms)":   2.5,
	"Large":              2.5,
	"Estate":             5.0,
}

// TierPlan is the (sessions, discount) pair a subscription tier grants.
type TierPlan struct {
	Sessions int
	Discount float64
}

var tierPlans = map[domain.SubscriptionTier]TierPlan{
	domain.TierSeedling: {Sessions: 1, Discount: 0},
	domain.TierSprout:   {Sessions: 4, Discount: 0.10},
	domain.TierSapling:  {Sessions: 8, Discount: 0.15},
	domain.TierForest:   {Sessions: 12, Discount: 0.25},
}

// PlanFor returns the tier's session count and discount fraction.
func PlanFor(tier domain.SubscriptionTier) (TierPlan, error) {
	plan, ok := tierPlans[tier]
	if !ok {
		return TierPlan{}, domain.Invalid(fmt.Sprintf("unknown subscription tier %q", tier))
	}
	return plan, nil
}

// Input are the booking parameters a quote is computed from.
type Input struct {
	Service       domain.ServiceType
	PropertySize  string
	Tier          domain.SubscriptionTier
	Factor        float64
	PointsToApply int64
}

// Quote is the priced result. Released + Escrow == Total always holds:
// released is rounded from the 70% share and escrow is the remainder.
type Quote struct {
	Sessions       int   `json:"sessions"`
	Subtotal       int64 `json:"subtotal"`
	PointsDiscount int64 `json:"points_discount"`
	PointsSpent    int64 `json:"points_spent"`
	Total          int64 `json:"total"`
	Released       int64 `json:"released"`
	Escrow         int64 `json:"escrow"`
}

// Compute prices a booking. Unknown service type, size category or tier and
// an out-of-range demand factor are validation errors; nothing defaults
// silently. A factor of 0 means "unset" and is treated as 1.0.
func Compute(in Input) (Quote, error) {
	base, ok := baseRates[in.Service]
	if !ok {
		return Quote{}, domain.Invalid(fmt.Sprintf("unknown service type %q", in.Service))
	}
	mult, ok := sizeMultipliers[in.PropertySize]
	if !ok {
		return Quote{}, domain.Invalid(fmt.Sprintf("unknown property size %q", in.PropertySize))
	}
	plan, err := PlanFor(in.Tier)
	if err != nil {
		return Quote{}, err
	}
	factor := in.Factor
	if factor == 0 {
		factor = MinFactor
	}
	if err := ValidateFactor(factor); err != nil {
		return Quote{}, err
	}
	if in.PointsToApply < 0 {
		return Quote{}, domain.Invalid("points to apply must not be negative")
	}

	subtotal := int64(math.Round(float64(base) * factor * mult * float64(plan.Sessions) * (1 - plan.Discount)))

	pointsValue := in.PointsToApply / PointsPerNaira
	discount := pointsValue
	if discount > subtotal {
		discount = subtotal
	}
	total := subtotal - discount

	released, escrow := Split(total)
	return Quote{
		Sessions:       plan.Sessions,
		Subtotal:       subtotal,
		PointsDiscount: discount,
		PointsSpent:    discount * PointsPerNaira,
		Total:          total,
		Released:       released,
		Escrow:         escrow,
	}, nil
}

// Split divides a total into the 70% released share and the 30% escrow
// share. Only the released share is rounded; escrow is total minus released
// so the two always sum to total exactly.
func Split(total int64) (released, escrow int64) {
	released = (total*70 + 50) / 100
	return released, total - released
}

// ValidateFactor bounds-checks the admin demand multiplier.
func ValidateFactor(factor float64) error {
	if factor < MinFactor || factor > MaxFactor {
		return domain.Invalid(fmt.Sprintf("pricing factor %.2f out of range %.1f-%.1f", factor, MinFactor, MaxFactor))
	}
	return nil
}

// Level is a provider progression rank unlocked by accumulated points.
type Level struct {
	Name      string `json:"name"`
	Threshold int64  `json:"threshold"`
}

var levels = []Level{
	{Name: "TRAINEE", Threshold: 0},
	{Name: "APPRENTICE", Threshold: 1000},
	{Name: "SPECIALIST", Threshold: 5000},
	{Name: "MASTER", Threshold: 15000},
}

// LevelFor returns the highest level whose threshold the balance meets.
func LevelFor(points int64) Level {
	current := levels[0]
	for _, l := range levels {
		if points >= l.Threshold {
			current = l
		}
	}
	return current
}
