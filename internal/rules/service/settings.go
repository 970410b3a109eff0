package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/platform/apperr"
)

// Engine setting keys stored in engine_settings.
const (
	SettingActivityMaster = "activity_master"
	SettingAging          = "aging"
	SettingDensityTargets = "density_targets"
	SettingForecast       = "forecast"
	SettingHealth         = "health"
)

// SettingKeys lists every accepted setting key.
func SettingKeys() []string {
	return []string{SettingActivityMaster, SettingAging, SettingDensityTargets, SettingForecast, SettingHealth}
}

// IsSettingKey reports whether key is an accepted setting key.
func IsSettingKey(key string) bool {
	for _, k := range SettingKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func decodeStrict(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// applySetting validates raw for key and writes it into rs.
func applySetting(rs *domain.Ruleset, key string, raw json.RawMessage) error {
	switch key {
	case SettingActivityMaster:
		var master domain.ActivityMaster
		if err := decodeStrict(raw, &master); err != nil {
			return apperr.Validation(fmt.Sprintf("activity_master: %v", err))
		}
		if err := validateActivityMaster(master); err != nil {
			return err
		}
		rs.OutcomeMappings = master.Flatten()
	case SettingAging:
		cfg, err := decodeAging(raw)
		if err != nil {
			return err
		}
		if err := validateAging(cfg); err != nil {
			return err
		}
		rs.Aging = cfg
	case SettingDensityTargets:
		var targets map[domain.Stage]int
		if err := decodeStrict(raw, &targets); err != nil {
			return apperr.Validation(fmt.Sprintf("density_targets: %v", err))
		}
		if err := checkStages(targets, func(days int) bool { return days > 0 }); err != nil {
			return apperr.Validation("density_targets: " + err.Error())
		}
		rs.DensityTargets = targets
	case SettingForecast:
		var cfg domain.ForecastConfig
		if err := decodeStrict(raw, &cfg); err != nil {
			return apperr.Validation(fmt.Sprintf("forecast: %v", err))
		}
		if cfg.CommissionRate < 0 || cfg.CommissionRate > 100 || cfg.LeakageThreshold < 0 {
			return apperr.Validation("forecast: commissionRate must be 0-100 and leakageThreshold non-negative")
		}
		if err := checkStages(cfg.WinProbability, func(p float64) bool { return p >= 0 && p <= 100 }); err != nil {
			return apperr.Validation("forecast: " + err.Error())
		}
		rs.Forecast = cfg
	case SettingHealth:
		var cfg domain.HealthConfig
		if err := decodeStrict(raw, &cfg); err != nil {
			return apperr.Validation(fmt.Sprintf("health: %v", err))
		}
		if cfg.Green.Min <= cfg.Yellow.Min {
			return apperr.Validation("health: green.min must be above yellow.min")
		}
		if err := checkStages(cfg.StageScores, func(s int) bool { return s >= 0 && s <= 100 }); err != nil {
			return apperr.Validation("health: " + err.Error())
		}
		rs.Health = cfg
	default:
		return apperr.Validation(fmt.Sprintf("unknown setting %q", key))
	}
	return nil
}

func checkStages[V any](m map[domain.Stage]V, valid func(V) bool) error {
	for stage, v := range m {
		if !domain.IsKnownStage(string(stage)) {
			return fmt.Errorf("unknown stage %q", stage)
		}
		if !valid(v) {
			return fmt.Errorf("value for %q out of range", stage)
		}
	}
	return nil
}

func validateActivityMaster(master domain.ActivityMaster) error {
	seen := make(map[[3]string]bool)
	for _, act := range master.Activities {
		if act.Name == "" {
			return apperr.Validation("activity_master: activity name is required")
		}
		for _, purp := range act.Purposes {
			if purp.Name == "" {
				return apperr.Validation(fmt.Sprintf("activity_master: %s has a purpose without a name", act.Name))
			}
			for _, out := range purp.Outcomes {
				if out.Label == "" {
					return apperr.Validation(fmt.Sprintf("activity_master: %s/%s has an outcome without a label", act.Name, purp.Name))
				}
				if out.Stage != "" && !domain.IsKnownStage(string(out.Stage)) {
					return apperr.Validation(fmt.Sprintf("activity_master: unknown stage %q", out.Stage))
				}
				triple := [3]string{act.Name, purp.Name, out.Label}
				if seen[triple] {
					return apperr.Validation(fmt.Sprintf("activity_master: duplicate outcome %s/%s/%s", act.Name, purp.Name, out.Label))
				}
				seen[triple] = true
			}
		}
	}
	return nil
}

// decodeAging overlays raw on the built-in aging config so omitted stall
// windows keep their defaults. Risk rules are replaced only when present,
// and never decoded into the default slice, which would leak default fields
// into rules that omit them.
func decodeAging(raw json.RawMessage) (domain.AgingConfig, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.AgingConfig{}, apperr.Validation(fmt.Sprintf("aging: %v", err))
	}

	cfg := domain.DefaultAgingConfig()
	defaultRules := cfg.RiskRules
	cfg.RiskRules = nil
	if err := decodeStrict(raw, &cfg); err != nil {
		return domain.AgingConfig{}, apperr.Validation(fmt.Sprintf("aging: %v", err))
	}
	if _, ok := fields["riskRules"]; !ok {
		cfg.RiskRules = defaultRules
	}
	return cfg, nil
}

func validateAging(cfg domain.AgingConfig) error {
	for _, r := range cfg.RiskRules {
		if r.Type == "" {
			return apperr.Validation("aging: risk rule type is required")
		}
		if r.Metric != domain.MetricStageDays && r.Metric != domain.MetricActivityGapDays {
			return apperr.Validation(fmt.Sprintf("aging: unknown metric %q", r.Metric))
		}
		if r.Stage != "" && !domain.IsKnownStage(string(r.Stage)) {
			return apperr.Validation(fmt.Sprintf("aging: unknown stage %q", r.Stage))
		}
		if r.MaxDays < 0 {
			return apperr.Validation("aging: maxDays must not be negative")
		}
		if r.Severity != domain.SeverityHigh && r.Severity != domain.SeverityMedium {
			return apperr.Validation(fmt.Sprintf("aging: risk rule %s has severity %q, want high or medium", r.Type, r.Severity))
		}
	}
	if cfg.NegotiationStalledDays <= 0 || cfg.NegotiationWarnGapDays <= 0 ||
		cfg.OpportunityStalledDays <= 0 || cfg.OpportunityGapDays <= 0 {
		return apperr.Validation("aging: stall windows must be positive")
	}
	return nil
}
