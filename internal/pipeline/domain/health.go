package domain

import (
	"fmt"
	"math"
	"time"
)

// HealthInput gathers the signals for one deal health computation.
// ResponseRate has no default; callers derive it with
// ComputeOwnerResponseRate.
type HealthInput struct {
	LeadScore     int
	Stage         Stage
	RiskFlags     []RiskFlag
	ResponseRate  int
	ActivityScore int
}

// OwnerRisk describes the owner responsiveness contribution.
type OwnerRisk struct {
	Penalty int    `json:"penalty"`
	Rate    int    `json:"rate"`
	Label   string `json:"label"`
}

// HealthBandName is the machine-readable health band.
type HealthBandName string

const (
	BandGreen  HealthBandName = "green"
	BandYellow HealthBandName = "yellow"
	BandRed    HealthBandName = "red"
)

// DealHealth is a 0-100 composite score with its band.
type DealHealth struct {
	Score         int            `json:"score"`
	Label         string         `json:"label"`
	Band          HealthBandName `json:"band"`
	ActivityScore int            `json:"activityScore"`
	OwnerRisk     OwnerRisk      `json:"ownerRisk"`
}

const defaultStageScore = 10

// StageScore returns the health contribution of s.
func (c HealthConfig) StageScore(s Stage) int {
	if v, ok := c.StageScores[s]; ok {
		return v
	}
	return defaultStageScore
}

// RiskPenalty is 10 per high flag plus 5 per medium flag.
func RiskPenalty(flags []RiskFlag) int {
	penalty := 0
	for _, f := range flags {
		switch f.Severity {
		case SeverityHigh:
			penalty += 10
		case SeverityMedium:
			penalty += 5
		}
	}
	return penalty
}

// ComputeOwnerRisk penalises response rates below 40 by up to 15 points.
func ComputeOwnerRisk(rate int) OwnerRisk {
	risk := OwnerRisk{Rate: rate}
	if rate < 40 {
		risk.Penalty = int(math.Round(float64(40-rate) / 40 * 15))
	}
	switch {
	case rate >= 70:
		risk.Label = "Responsive"
	case rate >= 40:
		risk.Label = "Slow"
	default:
		risk.Label = "Non-Responsive"
	}
	return risk
}

// ComputeDealHealth combines stage, lead quality and activity quality, minus
// risk and owner penalties, clamped to [0, 100].
func ComputeDealHealth(in HealthInput, cfg HealthConfig) DealHealth {
	owner := ComputeOwnerRisk(in.ResponseRate)

	health := float64(cfg.StageScore(in.Stage))*0.25 +
		float64(in.LeadScore)*0.25 +
		float64(in.ActivityScore) -
		float64(RiskPenalty(in.RiskFlags)) -
		float64(owner.Penalty)
	health = math.Max(0, math.Min(100, health))

	out := DealHealth{
		Score:         int(math.Round(health)),
		ActivityScore: in.ActivityScore,
		OwnerRisk:     owner,
	}
	switch {
	case health >= float64(cfg.Green.Min):
		out.Band, out.Label = BandGreen, cfg.Green.Label
	case health >= float64(cfg.Yellow.Min):
		out.Band, out.Label = BandYellow, cfg.Yellow.Label
	default:
		out.Band, out.Label = BandRed, cfg.RedLabel
	}
	return out
}

// Forecast is the probability-weighted value of one deal.
type Forecast struct {
	WeightedValue      float64 `json:"weightedValue"`
	Commission         float64 `json:"commission"`
	ExpectedCommission float64 `json:"expectedCommission"`
}

// ComputeForecast weights dealValue by winProbability (percent) and applies
// commissionRate (percent).
func ComputeForecast(dealValue, winProbability, commissionRate float64) Forecast {
	weighted := dealValue * (winProbability / 100)
	return Forecast{
		WeightedValue:      weighted,
		Commission:         dealValue * (commissionRate / 100),
		ExpectedCommission: weighted * (commissionRate / 100),
	}
}

// Leakage flags commission at risk on unhealthy deals.
type Leakage struct {
	Leakage  bool     `json:"leakage"`
	Severity Severity `json:"severity,omitempty"`
	Message  string   `json:"message,omitempty"`
	Action   string   `json:"action,omitempty"`
}

// DetectCommissionLeakage is critical when health < 40 and commission exceeds
// threshold, warning when health < 55 and commission exceeds 70% of it.
func DetectCommissionLeakage(health int, commission, threshold float64) Leakage {
	if health < 40 && commission > threshold {
		return Leakage{
			Leakage:  true,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("Critical: deal health %d%% with %.0f commission at risk", health, commission),
			Action:   "Immediate intervention required, escalate to senior manager",
		}
	}
	if health < 55 && commission > threshold*0.7 {
		return Leakage{
			Leakage:  true,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Warning: deal health %d%% with %.0f commission at risk", health, commission),
			Action:   "Schedule review meeting within 48 hours",
		}
	}
	return Leakage{}
}

// DensityEntity is one lead or deal in a funnel snapshot.
type DensityEntity struct {
	Stage          Stage
	StageChangedAt *time.Time
	CreatedAt      time.Time
}

// StageDensity is the funnel row for one stage.
type StageDensity struct {
	Stage          Stage `json:"stage"`
	Count          int   `json:"count"`
	ConversionPct  int   `json:"conversionPct"`
	ConversionRate int   `json:"conversionRate"`
	DropOffRate    int   `json:"dropOffRate"`
	AvgDays        int   `json:"avgDays"`
	TargetDays     int   `json:"targetDays"`
	IsBottleneck   bool  `json:"isBottleneck"`
	OverTarget     bool  `json:"overTarget"`
}

// DensityReport is the full funnel.
type DensityReport struct {
	Stages []StageDensity `json:"stages"`
	Total  int            `json:"total"`

	// OverallConversionPct is the share of the snapshot in Booked or Closed Won.
	OverallConversionPct int `json:"overallConversionPct"`
}

// ComputeStageDensity groups entities over the funnel stages. Entities in
// other stages count toward the total but not toward any row.
func ComputeStageDensity(entities []DensityEntity, rs Ruleset, now time.Time) DensityReport {
	groups := make(map[Stage][]DensityEntity, len(FunnelStages))
	for _, e := range entities {
		groups[e.Stage] = append(groups[e.Stage], e)
	}

	total := len(entities)
	denominator := total
	if denominator == 0 {
		denominator = 1
	}

	report := DensityReport{Total: total, Stages: make([]StageDensity, 0, len(FunnelStages))}
	for i, stage := range FunnelStages {
		group := groups[stage]
		count := len(group)
		row := StageDensity{
			Stage:         stage,
			Count:         count,
			ConversionPct: roundPct(count, denominator),
			TargetDays:    rs.DensityTarget(stage),
		}

		if count > 0 {
			nextCount := 0
			if i+1 < len(FunnelStages) {
				nextCount = len(groups[FunnelStages[i+1]])
			}
			row.ConversionRate = roundPct(nextCount, count)
			row.DropOffRate = max(0, 100-row.ConversionRate)

			sum := 0
			for _, e := range group {
				from := e.CreatedAt
				if e.StageChangedAt != nil {
					from = *e.StageChangedAt
				}
				sum += DaysBetween(from, now)
			}
			row.AvgDays = int(math.Round(float64(sum) / float64(count)))
		}

		row.IsBottleneck = count > 0 && float64(row.AvgDays) > float64(row.TargetDays)*1.5
		row.OverTarget = row.AvgDays > row.TargetDays
		report.Stages = append(report.Stages, row)
	}

	report.OverallConversionPct = roundPct(len(groups[StageBooked])+len(groups[StageClosedWon]), denominator)
	return report
}

func roundPct(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}
