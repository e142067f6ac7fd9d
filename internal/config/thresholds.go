package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/appshare1603/VanLive/internal/domain"
)

// ThresholdsFile is the on-disk form of alert thresholds:
//
//	defaults:
//	  gas_ppm_max: 350
//	vehicles:
//	  van-1:
//	    level_tolerance_deg: 2.0
type ThresholdsFile struct {
	Defaults map[string]float64            `yaml:"defaults"`
	Vehicles map[string]map[string]float64 `yaml:"vehicles"`
}

// LoadThresholdsFile parses path and checks every name against the known
// thresholds, applied on top of base.
func LoadThresholdsFile(path string, base domain.Thresholds) (*ThresholdsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f ThresholdsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	defaults, err := base.With(f.Defaults)
	if err != nil {
		return nil, fmt.Errorf("%s defaults: %w", path, err)
	}
	for vehicleID, overrides := range f.Vehicles {
		if _, err := defaults.With(overrides); err != nil {
			return nil, fmt.Errorf("%s vehicle %s: %w", path, vehicleID, err)
		}
	}
	return &f, nil
}
