package host

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/goliatone/go-stash/migrate"
	"github.com/goliatone/go-stash/migrate/script"
	"github.com/goliatone/go-stash/pkg/config"
)

// buildMigrations compiles the scripted steps configured for key, in order.
func buildMigrations(key string, cfg config.KeyConfig, logger *zap.Logger) (*migrate.Pipeline, error) {
	pipeline := migrate.New()
	for i, m := range cfg.Migrations {
		evaluator, err := script.NewEvaluator(m.Engine)
		if err != nil {
			return nil, fmt.Errorf("host: key %q migration %d: %w", key, i, err)
		}
		step, err := script.NewStep(evaluator, m.Expression,
			script.WithArgs(m.Args),
			script.WithMetadata(map[string]any{"key": key, "name": m.Name}),
			script.WithLogger(logger.Named("migrate").With(zap.String("key", key))),
		)
		if err != nil {
			return nil, fmt.Errorf("host: key %q migration %d: %w", key, i, err)
		}
		pipeline.UseNamed(m.Name, step)
	}
	return pipeline, nil
}
