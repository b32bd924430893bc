package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sentinelmesh/core/pkg/contracts"
)

// MeshProfile is a named deployment profile. Operators ship one YAML
// file per mesh (newsroom, platform trust-and-safety, election watch)
// carrying the alerting defaults and notification policy for that
// deployment.
type MeshProfile struct {
	Name          string          `yaml:"name" json:"name"`
	Code          string          `yaml:"code" json:"code"`
	Rules         RulesConfig     `yaml:"rules" json:"rules"`
	Notify        NotifyConfig    `yaml:"notify" json:"notify"`
	Platforms     PlatformsConfig `yaml:"platforms" json:"platforms"`
	RetentionDays int             `yaml:"retention_days,omitempty" json:"retention_days,omitempty"`
}

// RulesConfig holds the alert thresholds the profile applies at boot.
type RulesConfig struct {
	DetectionThreshold uint64 `yaml:"detection_threshold" json:"detection_threshold"`
	SpreadThreshold    uint64 `yaml:"spread_threshold" json:"spread_threshold"`
	CountryThreshold   uint64 `yaml:"country_threshold" json:"country_threshold"`
	ReuploadThreshold  uint64 `yaml:"reupload_threshold" json:"reupload_threshold"`
	CooldownSec        int    `yaml:"cooldown_sec" json:"cooldown_sec"`
	Enabled            *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// NotifyConfig sets the notification floor and rate for the profile.
type NotifyConfig struct {
	MinSeverity string `yaml:"min_severity" json:"min_severity"`
	PerMinute   int    `yaml:"per_minute" json:"per_minute"`
}

// PlatformsConfig controls which sighting platforms are accepted.
type PlatformsConfig struct {
	Mode      string   `yaml:"mode" json:"mode"` // "allowlist" | "denylist" | "open"
	Allowlist []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Denylist  []string `yaml:"denylist,omitempty" json:"denylist,omitempty"`
}

// AlertRule converts the profile thresholds to a rule, starting from
// the defaults so unset fields keep their standard values.
func (p *MeshProfile) AlertRule() contracts.AlertRule {
	rule := contracts.DefaultAlertRule()
	if p.Rules.DetectionThreshold > 0 {
		rule.DetectionThreshold = p.Rules.DetectionThreshold
	}
	if p.Rules.SpreadThreshold > 0 {
		rule.SpreadThreshold = p.Rules.SpreadThreshold
	}
	if p.Rules.CountryThreshold > 0 {
		rule.CountryThreshold = p.Rules.CountryThreshold
	}
	if p.Rules.ReuploadThreshold > 0 {
		rule.ReuploadThreshold = p.Rules.ReuploadThreshold
	}
	if p.Rules.Enabled != nil {
		rule.Enabled = *p.Rules.Enabled
	}
	return rule
}

// AcceptsPlatform checks a sighting platform against the profile policy.
func (p *MeshProfile) AcceptsPlatform(platform string) bool {
	switch p.Platforms.Mode {
	case "allowlist":
		for _, v := range p.Platforms.Allowlist {
			if strings.EqualFold(v, platform) {
				return true
			}
		}
		return false
	case "denylist":
		for _, v := range p.Platforms.Denylist {
			if strings.EqualFold(v, platform) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// LoadProfile loads profile_<code>.yaml from the profiles directory.
func LoadProfile(profilesDir, code string) (*MeshProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile MeshProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*MeshProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*MeshProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile MeshProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}
