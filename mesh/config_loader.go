package mesh

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the unified configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if _, err := config.Registration.ICPConfig(); err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}

	seen := make(map[string]bool)
	for i, job := range config.Jobs {
		if job.ID == "" {
			return nil, fmt.Errorf("jobs[%d].id is required", i)
		}
		if seen[job.ID] {
			return nil, fmt.Errorf("jobs[%d].id %q is duplicated", i, job.ID)
		}
		seen[job.ID] = true
		if job.Model == "" || job.Scene == "" {
			return nil, fmt.Errorf("jobs[%d] (%s): model and scene are required", i, job.ID)
		}
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ICPConfig converts the YAML form into an ICPConfig. Unset fields keep the
// values of DefaultICPConfig.
func (rc RegistrationConfig) ICPConfig() (ICPConfig, error) {
	cfg := DefaultICPConfig()

	if rc.WeightPolicy != "" {
		p, err := ParseWeightPolicy(rc.WeightPolicy)
		if err != nil {
			return cfg, err
		}
		cfg.Policy = p
	}
	setFloat(&cfg.Weights.SigmoidDMid, rc.SigmoidDMid)
	setFloat(&cfg.Weights.SigmoidK, rc.SigmoidK)
	setFloat(&cfg.Weights.LorentzSigma, rc.LorentzSigma)
	setFloat(&cfg.DynamicD, rc.DynamicD)
	setFloat(&cfg.StaticThresh, rc.StaticThresh)
	setFloat(&cfg.ErrorT, rc.ErrorT)
	setFloat(&cfg.DistT, rc.DistT)
	setFloat(&cfg.AngleT, rc.AngleT)
	setFloat(&cfg.TransT, rc.TransT)
	setFloat(&cfg.NormalTDeg, rc.NormalTDeg)
	setFloat(&cfg.SmartOverlapT, rc.SmartOverlapT)
	setFloat(&cfg.FeatureWeight, rc.FeatureWeight)
	setInt(&cfg.MaxIter, rc.MaxIter)
	setInt(&cfg.InnerIterations, rc.InnerIterations)
	setInt(&cfg.OverlapDelay, rc.OverlapDelay)
	setInt(&cfg.NPer, rc.NPer)
	setInt(&cfg.Parallel, rc.Parallel)
	setInt(&cfg.Workers, rc.Workers)
	if rc.Seed != 0 {
		cfg.Seed = rc.Seed
	}
	cfg.FineMatching = rc.FineMatching
	cfg.OverlapFilter = rc.OverlapFilter
	cfg.Verbose = rc.Verbose

	if len(rc.DynamicBreakpoints) > 0 {
		if len(rc.DynamicBreakpoints) != 3 {
			return cfg, fmt.Errorf("dynamicBreakpoints needs 3 values, got %d", len(rc.DynamicBreakpoints))
		}
		copy(cfg.Breakpoints.Bounds[:], rc.DynamicBreakpoints)
	}
	if len(rc.Initial) > 0 {
		if len(rc.Initial) != 6 {
			return cfg, fmt.Errorf("initial needs 6 values (tx ty tz rx ry rz), got %d", len(rc.Initial))
		}
		p := rc.Initial
		cfg.Initial = TransformFromParams(p[0], p[1], p[2], p[3], p[4], p[5])
	}

	if cfg.Policy == WeightOracle {
		// the oracle function is attached in code, not in YAML
		return cfg, fmt.Errorf("%w: oracle weighting is only available programmatically", ErrUnknownWeightPolicy)
	}
	return cfg, cfg.Validate()
}

// Merge overlays the non-zero fields of o onto rc.
func (rc RegistrationConfig) Merge(o *RegistrationConfig) RegistrationConfig {
	if o == nil {
		return rc
	}
	data, err := yaml.Marshal(o)
	if err != nil {
		return rc
	}
	merged := rc
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return rc
	}
	return merged
}

// ApplyEnv overrides MQTT settings from MQTT_* environment variables.
func (c *Config) ApplyEnv() {
	for env, dst := range map[string]*string{
		"MQTT_BROKER":         &c.MQTT.Broker,
		"MQTT_CLIENT_ID":      &c.MQTT.ClientID,
		"MQTT_USERNAME":       &c.MQTT.Username,
		"MQTT_PASSWORD":       &c.MQTT.Password,
		"MQTT_PUBLISH_PREFIX": &c.MQTT.PublishPrefix,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
}

// FindJob returns the job with the given id.
func (c *Config) FindJob(id string) (JobConfig, bool) {
	for _, j := range c.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return JobConfig{}, false
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
