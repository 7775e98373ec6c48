package bureau

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/generator"
)

// Probe is one step of the query fallback: a source and, for external
// data, the institution whose records are trusted.
type Probe struct {
	Source      entity.Source
	Institution string
}

func (p Probe) String() string {
	if p.Institution == "" {
		return string(p.Source)
	}
	return string(p.Source) + "@" + p.Institution
}

// accepts reports whether a record held at institution belongs to the probe.
func (p Probe) accepts(institution string) bool {
	return p.Institution == "" || strings.EqualFold(strings.TrimSpace(institution), p.Institution)
}

// DefaultProbes searches internal data first and then the external mirror
// of BANCO PICHINCHA.
func DefaultProbes() []Probe {
	return []Probe{
		{Source: entity.SourceInternal},
		{Source: entity.SourceExternal, Institution: "BANCO PICHINCHA"},
	}
}

// ParseProbes reads a comma separated list such as
// "internal,external@BANCO PICHINCHA".
func ParseProbes(v string) ([]Probe, error) {
	var out []Probe
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, institution, _ := strings.Cut(part, "@")
		src, err := entity.ParseSource(name)
		if err != nil {
			return nil, fmt.Errorf("probe %q: %w", part, err)
		}
		out = append(out, Probe{Source: src, Institution: strings.TrimSpace(institution)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no probes in %q", v)
	}
	return out, nil
}

type Config struct {
	Probes    []Probe
	Generator generator.Config
	// AdminKeyHash is a bcrypt hash guarding the write endpoints; empty
	// leaves them open.
	AdminKeyHash string
	// StoreDriver selects "postgres" or "memory".
	StoreDriver string
}

// ConfigFromEnv reads the bureau settings:
//
//	BURO_QUERY_SOURCES          probe list, see ParseProbes
//	BURO_HOME_INSTITUTION       institution of generated internal records
//	BURO_EXTERNAL_INSTITUTIONS  comma separated pool for external records
//	BURO_GENERATOR_SEED         fixed seed for reproducible data
//	BURO_ADMIN_KEY_HASH         bcrypt hash of the X-API-Key for writes
//	STORE_DRIVER                postgres (default) or memory
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Probes:       DefaultProbes(),
		Generator:    generator.DefaultConfig(),
		AdminKeyHash: os.Getenv("BURO_ADMIN_KEY_HASH"),
		StoreDriver:  strings.ToLower(os.Getenv("STORE_DRIVER")),
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "memory" {
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q", cfg.StoreDriver)
	}
	if v := os.Getenv("BURO_QUERY_SOURCES"); v != "" {
		probes, err := ParseProbes(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BURO_QUERY_SOURCES: %w", err)
		}
		cfg.Probes = probes
	}
	if v := os.Getenv("BURO_HOME_INSTITUTION"); v != "" {
		cfg.Generator.HomeInstitution = v
	}
	if v := os.Getenv("BURO_EXTERNAL_INSTITUTIONS"); v != "" {
		var pool []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				pool = append(pool, name)
			}
		}
		if len(pool) < 2 {
			return Config{}, fmt.Errorf("BURO_EXTERNAL_INSTITUTIONS needs at least 2 institutions")
		}
		cfg.Generator.ExternalInstitutions = pool
	}
	if v := os.Getenv("BURO_GENERATOR_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BURO_GENERATOR_SEED: %w", err)
		}
		cfg.Generator.Seed = seed
	}
	return cfg, nil
}
