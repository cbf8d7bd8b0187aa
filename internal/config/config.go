package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FormValues are the defaults typed into data-entry screens when a field's
// descriptor gives no better hint.
type FormValues struct {
	Name   string `yaml:"name"`
	Height string `yaml:"height"`
	Weight string `yaml:"weight"`
	Age    string `yaml:"age"`
	Email  string `yaml:"email"`
}

type Config struct {
	// Step budgets. The budget extends once an email screen has been seen,
	// since paywalls and upsell chains usually appear only after lead capture.
	MaxSteps           int `yaml:"max_steps"`
	MaxStepsAfterEmail int `yaml:"max_steps_after_email"`

	// Loop detection thresholds. Kept independent on purpose: fingerprint
	// repetition and no-action streaks are separate signals.
	SameFingerprintLimit int `yaml:"same_fingerprint_limit"`
	NoActionLimit        int `yaml:"no_action_limit"`

	SettleDelay       time.Duration `yaml:"settle_delay"`
	TransitionTimeout time.Duration `yaml:"transition_timeout"`
	NavTimeout        time.Duration `yaml:"nav_timeout"`
	NavRetries        int           `yaml:"nav_retries"`

	Headless   bool       `yaml:"headless"`
	SlowMo     float64    `yaml:"slow_mo"`
	ResultsDir string     `yaml:"results_dir"`
	ListenAddr string     `yaml:"listen_addr"`
	Form       FormValues `yaml:"form"`
	URLs       []string   `yaml:"urls"`
}

func NewConfig() *Config {
	return &Config{
		MaxSteps:             25,
		MaxStepsAfterEmail:   40,
		SameFingerprintLimit: 4,
		NoActionLimit:        2,
		SettleDelay:          1500 * time.Millisecond,
		TransitionTimeout:    8 * time.Second,
		NavTimeout:           45 * time.Second,
		NavRetries:           1,
		Headless:             true,
		SlowMo:               0,
		ResultsDir:           "results",
		ListenAddr:           ":8080",
		Form: FormValues{
			Name:   "Alex",
			Height: "175",
			Weight: "70",
			Age:    "32",
			Email:  "alex.taylor.quiz@example.com",
		},
	}
}

// UnmarshalYAML overlays a document onto the current values, so keys absent
// from the file keep their defaults. Durations are written as strings
// ("500ms", "1.5s") because the yaml package has no native duration support.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain struct {
		MaxSteps             int         `yaml:"max_steps"`
		MaxStepsAfterEmail   int         `yaml:"max_steps_after_email"`
		SameFingerprintLimit int         `yaml:"same_fingerprint_limit"`
		NoActionLimit        int         `yaml:"no_action_limit"`
		SettleDelay          string      `yaml:"settle_delay"`
		TransitionTimeout    string      `yaml:"transition_timeout"`
		NavTimeout           string      `yaml:"nav_timeout"`
		NavRetries           int         `yaml:"nav_retries"`
		Headless             *bool       `yaml:"headless"`
		SlowMo               float64     `yaml:"slow_mo"`
		ResultsDir           string      `yaml:"results_dir"`
		ListenAddr           string      `yaml:"listen_addr"`
		Form                 *FormValues `yaml:"form"`
		URLs                 []string    `yaml:"urls"`
	}
	p := plain{
		MaxSteps:             c.MaxSteps,
		MaxStepsAfterEmail:   c.MaxStepsAfterEmail,
		SameFingerprintLimit: c.SameFingerprintLimit,
		NoActionLimit:        c.NoActionLimit,
		SettleDelay:          c.SettleDelay.String(),
		TransitionTimeout:    c.TransitionTimeout.String(),
		NavTimeout:           c.NavTimeout.String(),
		NavRetries:           c.NavRetries,
		SlowMo:               c.SlowMo,
		ResultsDir:           c.ResultsDir,
		ListenAddr:           c.ListenAddr,
		Form:                 &c.Form,
		URLs:                 c.URLs,
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	c.MaxSteps = p.MaxSteps
	c.MaxStepsAfterEmail = p.MaxStepsAfterEmail
	c.SameFingerprintLimit = p.SameFingerprintLimit
	c.NoActionLimit = p.NoActionLimit
	c.NavRetries = p.NavRetries
	c.SlowMo = p.SlowMo
	c.ResultsDir = p.ResultsDir
	c.ListenAddr = p.ListenAddr
	c.URLs = p.URLs
	if p.Headless != nil {
		c.Headless = *p.Headless
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{p.SettleDelay, &c.SettleDelay, "settle_delay"},
		{p.TransitionTimeout, &c.TransitionTimeout, "transition_timeout"},
		{p.NavTimeout, &c.NavTimeout, "nav_timeout"},
	} {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.MaxStepsAfterEmail < c.MaxSteps {
		return fmt.Errorf("max_steps_after_email (%d) must be >= max_steps (%d)", c.MaxStepsAfterEmail, c.MaxSteps)
	}
	if c.SameFingerprintLimit < 2 {
		return fmt.Errorf("same_fingerprint_limit must be at least 2, got %d", c.SameFingerprintLimit)
	}
	if c.NoActionLimit < 1 {
		return fmt.Errorf("no_action_limit must be at least 1, got %d", c.NoActionLimit)
	}
	return nil
}
