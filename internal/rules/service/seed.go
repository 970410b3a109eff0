package service

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/rules/repository"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type seedFile struct {
	OverrideRules  []domain.OverrideRule `yaml:"overrideRules"`
	ActivityMaster domain.ActivityMaster `yaml:"activityMaster"`
}

// DefaultSeed returns the rows written into empty rule tables.
func DefaultSeed() (repository.SeedData, error) {
	return parseSeed(defaultsYAML)
}

func parseSeed(raw []byte) (repository.SeedData, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return repository.SeedData{}, fmt.Errorf("parse default ruleset: %w", err)
	}
	if err := validateActivityMaster(f.ActivityMaster); err != nil {
		return repository.SeedData{}, fmt.Errorf("default activity master: %w", err)
	}

	values := map[string]interface{}{
		SettingActivityMaster: f.ActivityMaster,
		SettingAging:          domain.DefaultAgingConfig(),
		SettingDensityTargets: domain.DefaultDensityTargets(),
		SettingForecast:       domain.DefaultForecastConfig(),
		SettingHealth:         domain.DefaultHealthConfig(),
	}
	settings := make(map[string]json.RawMessage, len(values))
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return repository.SeedData{}, fmt.Errorf("encode default %s: %w", key, err)
		}
		settings[key] = raw
	}

	return repository.SeedData{
		OverrideRules:  f.OverrideRules,
		SyncRules:      domain.DefaultSyncRules(),
		StabilityLocks: domain.DefaultStabilityLocks(),
		Settings:       settings,
	}, nil
}
