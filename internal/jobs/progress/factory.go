package progress

import (
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/interfaces"
)

// New selects the configured ProgressChannel backend. Postgres deployments
// get LISTEN/NOTIFY fan-out backed by the job_progress table; every other
// storage type falls back to an in-process channel, resolving the second
// Open Question noted in the design notes.
func New(cfg *common.Config, db *sql.DB, logger arbor.ILogger) (interfaces.ProgressChannel, error) {
	if cfg.Storage.Type != "postgres" && cfg.Storage.Type != "" {
		return NewMemoryChannel(), nil
	}

	pc := cfg.Storage.Postgres
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.Database, pc.SSLMode,
	)

	return NewPostgresChannel(db, connStr, logger)
}
