package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/feedsync/feedsync/internal/domain/model"
)

// LoadRegistry reads and validates the TOML job registry at path.
func LoadRegistry(path string) (*model.Registry, error) {
	var reg model.Registry
	if _, err := toml.DecodeFile(path, &reg); err != nil {
		return nil, fmt.Errorf("load job registry %s: %w", path, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("job registry %s: %w", path, err)
	}
	return &reg, nil
}

// ParseRegistry parses registry TOML from a string. Mostly for tests.
func ParseRegistry(data string) (*model.Registry, error) {
	var reg model.Registry
	if _, err := toml.Decode(data, &reg); err != nil {
		return nil, fmt.Errorf("parse job registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}
