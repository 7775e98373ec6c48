package generator

import "time"

// Config drives the synthetic record generator.
type Config struct {
	// HomeInstitution is the institution stamped on internal records.
	HomeInstitution string
	// ExternalInstitutions is the pool external records are spread over.
	ExternalInstitutions []string
	// ClosedDebtChance is the probability an expense has no open months.
	ClosedDebtChance float64
	// Seed makes generation reproducible; zero seeds from the clock.
	Seed int64
	// Clock overrides time.Now, mostly for tests.
	Clock func() time.Time
}

// DefaultConfig returns the generator settings used by the service.
func DefaultConfig() Config {
	return Config{
		HomeInstitution: "BANCO BANQUITO",
		ExternalInstitutions: []string{
			"BANCO PICHINCHA",
			"BANCO DEL PACIFICO",
			"BANCO GUAYAQUIL",
			"PRODUBANCO",
			"BANCO BOLIVARIANO",
			"COOPERATIVA JEP",
		},
		ClosedDebtChance: 0.25,
	}
}
