package livepatch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chenyanchen/livepatch/sweep"
)

const (
	DefaultNotification    = "INJECTION_BUNDLE_NOTIFICATION"
	DefaultRefreshSelector = Selector("injected")
	DefaultTestBase        = "TestCase"
	DefaultTestPrefix      = "test"
)

// Config tunes notification and sweeping.
type Config struct {
	// Notification is the broadcast event name for patched types without a
	// refresh method.
	Notification string `json:"notification" yaml:"notification"`
	// RefreshSelector is the instance method invoked on live instances.
	RefreshSelector Selector `json:"refreshSelector" yaml:"refreshSelector"`
	// TestBase names the type whose subtypes are run as test suites.
	TestBase string `json:"testBase" yaml:"testBase"`
	// TestPrefix selects the test methods of a suite.
	TestPrefix string `json:"testPrefix" yaml:"testPrefix"`

	Sweep sweep.Policy `json:"sweep" yaml:"sweep"`
}

func DefaultConfig() Config {
	return Config{
		Notification:    DefaultNotification,
		RefreshSelector: DefaultRefreshSelector,
		TestBase:        DefaultTestBase,
		TestPrefix:      DefaultTestPrefix,
		Sweep:           sweep.DefaultPolicy(),
	}
}

// LoadConfig decodes YAML over DefaultConfig. Unknown keys are errors.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	raw, err := io.ReadAll(r)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML config from path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

func (c Config) validate() error {
	if c.Notification == "" {
		return fmt.Errorf("config: notification is empty")
	}
	if c.RefreshSelector == "" {
		return fmt.Errorf("config: refreshSelector is empty")
	}
	if c.TestPrefix == "" {
		return fmt.Errorf("config: testPrefix is empty")
	}
	return nil
}
