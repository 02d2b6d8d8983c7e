package store

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/interfaces"
)

// New selects and constructs the configured JobStore backend, grounded in
// the teacher's internal/storage/factory.go dispatch-on-config-type pattern.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (interfaces.JobStore, error) {
	switch cfg.Storage.Type {
	case "", "postgres":
		return NewPostgresStore(ctx, cfg.Storage.Postgres, logger)
	case "badger":
		return NewBadgerStore(cfg.Storage.Badger, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %q (expected \"postgres\" or \"badger\")", cfg.Storage.Type)
	}
}
