package app

import (
	"database/sql"
	"fmt"
	"time"

	"fundline/internal/config"
	"fundline/internal/db"
	"fundline/internal/events"
	"fundline/internal/ledger"
	"fundline/internal/migrate"
	"fundline/internal/repo"
)

// App bundles the opened database and the wired ledger for CLI commands
// and the server.
type App struct {
	DB     *sql.DB
	Repo   *repo.Repo
	Config *config.Config
	Ledger *ledger.Ledger
}

// Open prepares the workspace: database opened and migrated, config loaded,
// project catalog seeded. Callers own Close.
func Open(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.New(conn)
	l := ledger.New(conn, r, events.NewWriter(time.Now), cfg)
	if err := l.SeedProjects(); err != nil {
		conn.Close()
		return nil, err
	}
	return &App{DB: conn, Repo: r, Config: cfg, Ledger: l}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
