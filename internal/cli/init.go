package cli

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/auth"
	"github.com/fpang/picwizard/internal/config"
)

// InitConfig loads the environment configuration, applies flag overrides,
// resolves the service token and validates the result. Exits fatally on
// invalid configuration.
func InitConfig(overrides ...func(*config.Config)) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	for _, o := range overrides {
		o(cfg)
	}

	token, err := auth.ResolveToken(cfg.APIToken)
	switch {
	case err == nil:
		cfg.APIToken = token
	case errors.Is(err, auth.ErrNoToken):
		log.Debug().Msg("No service token configured, sending unauthenticated requests")
	default:
		log.Warn().Err(err).Msg("Failed to read service token, sending unauthenticated requests")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}
