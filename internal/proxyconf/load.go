package proxyconf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML settings document at path, then validates
// it via [Config.Validate].
func Load(path string) (c *Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("proxyconf: reading %q: %w", path, err)
	}

	c = &Config{}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("proxyconf: parsing %q: %w", path, err)
	}

	if err = c.Validate(); err != nil {
		return nil, fmt.Errorf("proxyconf: %q: %w", path, err)
	}

	return c, nil
}
