package commands

import (
	"database/sql"

	"github.com/postpipe/postpipe/config"
	"github.com/postpipe/postpipe/db"
	"github.com/postpipe/postpipe/errors"
	"github.com/postpipe/postpipe/logger"
)

// openDatabase opens and migrates the job database. If dbPath is
// empty, the configured path is used.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
		dbPath = cfg.Database.Path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	return database, nil
}
