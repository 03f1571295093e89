package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akarpov/archivarius/internal/core/domain"
)

// Duration decodes yaml scalars like "500ms" or "2m" via time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Pipeline is the operational tuning surface: thresholds, retry policy, lease
// and retention windows. It lives in a YAML file so operators can adjust it
// without a redeploy.
type Pipeline struct {
	Thresholds struct {
		Extraction     float64 `yaml:"extraction"`
		Classification float64 `yaml:"classification"`
	} `yaml:"thresholds"`

	FallbackCategory string `yaml:"fallback_category"`

	Retry struct {
		MaxAttempts    int      `yaml:"max_attempts"`
		BaseDelay      Duration `yaml:"base_delay"`
		MaxDelay       Duration `yaml:"max_delay"`
		Multiplier     float64  `yaml:"multiplier"`
		JitterFraction float64  `yaml:"jitter_fraction"`
	} `yaml:"retry"`

	StageTimeout Duration `yaml:"stage_timeout"`
	LeaseTTL     Duration `yaml:"lease_ttl"`

	Retention struct {
		Jobs  Duration `yaml:"jobs"`
		Audit Duration `yaml:"audit"`
		Sweep Duration `yaml:"sweep"`
	} `yaml:"retention"`
}

func DefaultPipeline() Pipeline {
	var p Pipeline
	p.Thresholds.Extraction = 0.70
	p.Thresholds.Classification = 0.80
	p.FallbackCategory = "unclassified"
	p.Retry.MaxAttempts = 3
	p.Retry.BaseDelay = Duration(500 * time.Millisecond)
	p.Retry.MaxDelay = Duration(30 * time.Second)
	p.Retry.Multiplier = 2.0
	p.Retry.JitterFraction = 0.2
	p.StageTimeout = Duration(2 * time.Minute)
	p.LeaseTTL = Duration(5 * time.Minute)
	p.Retention.Jobs = Duration(30 * 24 * time.Hour)
	p.Retention.Audit = Duration(365 * 24 * time.Hour)
	p.Retention.Sweep = Duration(time.Hour)
	return p
}

// LoadPipeline reads the tuning file at path, falling back to defaults for
// anything unset. An empty path yields the defaults.
func LoadPipeline(path string) (Pipeline, error) {
	p := DefaultPipeline()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse pipeline config: %w", err)
	}
	return p.normalize(), nil
}

func (p Pipeline) normalize() Pipeline {
	def := DefaultPipeline()
	if p.Thresholds.Extraction <= 0 || p.Thresholds.Extraction > 1 {
		p.Thresholds.Extraction = def.Thresholds.Extraction
	}
	if p.Thresholds.Classification <= 0 || p.Thresholds.Classification > 1 {
		p.Thresholds.Classification = def.Thresholds.Classification
	}
	if p.FallbackCategory == "" {
		p.FallbackCategory = def.FallbackCategory
	}
	if p.Retry.MaxAttempts <= 0 {
		p.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if p.Retry.BaseDelay <= 0 {
		p.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if p.Retry.MaxDelay < p.Retry.BaseDelay {
		p.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if p.Retry.Multiplier < 1 {
		p.Retry.Multiplier = def.Retry.Multiplier
	}
	if p.Retry.JitterFraction < 0 || p.Retry.JitterFraction >= 1 {
		p.Retry.JitterFraction = def.Retry.JitterFraction
	}
	if p.StageTimeout <= 0 {
		p.StageTimeout = def.StageTimeout
	}
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = def.LeaseTTL
	}
	if p.Retention.Jobs <= 0 {
		p.Retention.Jobs = def.Retention.Jobs
	}
	if p.Retention.Audit <= 0 {
		p.Retention.Audit = def.Retention.Audit
	}
	if p.Retention.Sweep <= 0 {
		p.Retention.Sweep = def.Retention.Sweep
	}
	return p
}

// ThresholdFor returns the stage's blocking threshold. Translation carries an
// advisory score only; it never blocks progress.
func (p Pipeline) ThresholdFor(stage domain.Stage) (threshold float64, blocking bool) {
	switch stage {
	case domain.StageExtraction:
		return p.Thresholds.Extraction, true
	case domain.StageClassification:
		return p.Thresholds.Classification, true
	default:
		return 0, false
	}
}
