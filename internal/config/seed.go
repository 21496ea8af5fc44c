package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed lists tickers to resolve and register at start-up, before the page
// has emitted any quotes traffic.
type Seed struct {
	Symbols []string `yaml:"symbols"`
}

// LoadSeed reads a seed YAML file. Symbols are upper-cased and de-duplicated.
// A missing file returns an os.ErrNotExist-wrapped error.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	var raw Seed
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}

	seen := make(map[string]bool, len(raw.Symbols))
	seed := &Seed{}
	for i, sym := range raw.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			return nil, fmt.Errorf("seed config: symbols[%d] is empty", i)
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true
		seed.Symbols = append(seed.Symbols, sym)
	}
	return seed, nil
}
