package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/database/migrations"
)

const defaultMigrationsDir = "internal/infrastructure/database/migrations/files"

var (
	migrationFile = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)
	migrationName = regexp.MustCompile(`^[a-z0-9_]+$`)
)

func main() {
	var (
		action     = flag.String("action", "up", "Migration action: up, down, status, create")
		name       = flag.String("name", "", "Migration name (for create action)")
		steps      = flag.Int("steps", 1, "Number of migrations to roll back (for down action)")
		dir        = flag.String("dir", defaultMigrationsDir, "Migrations directory (for create action)")
		configPath = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *action == "create" {
		up, down, err := createMigration(*dir, *name, time.Now())
		if err != nil {
			slog.Error("failed to create migration", "error", err)
			os.Exit(1)
		}
		slog.Info("created migration", "up", up, "down", down)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := migrations.Open(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	switch *action {
	case "up":
		err = migrations.Up(db)
	case "down":
		if *steps < 1 {
			slog.Error("steps must be at least 1", "steps", *steps)
			os.Exit(1)
		}
		err = migrations.Down(db, *steps)
	case "status":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = migrations.Version(db)
		if err == nil {
			slog.Info("migration status", "version", version, "dirty", dirty)
		}
	default:
		slog.Error("unknown action", "action", *action)
		os.Exit(1)
	}

	if err != nil {
		slog.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
	slog.Info("migration complete", "action", *action)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// createMigration writes an empty up/down pair numbered after the highest
// existing migration in dir
func createMigration(dir, name string, now time.Time) (string, string, error) {
	if !migrationName.MatchString(name) {
		return "", "", fmt.Errorf("migration name %q must be lower snake case", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	next, err := nextSequence(dir)
	if err != nil {
		return "", "", err
	}
	base := fmt.Sprintf("%06d_%s", next, name)
	header := fmt.Sprintf("-- Migration: %s\n-- Created at: %s\n\n", name, now.UTC().Format(time.RFC3339))

	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")
	for _, path := range []string{up, down} {
		if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
			return "", "", fmt.Errorf("failed to create migration file: %w", err)
		}
	}
	return up, down, nil
}

func nextSequence(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var seen []int
	for _, e := range entries {
		m := migrationFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(strings.TrimLeft(m[1], "0"))
		if err != nil {
			continue
		}
		seen = append(seen, n)
	}
	if len(seen) == 0 {
		return 1, nil
	}
	sort.Ints(seen)
	return seen[len(seen)-1] + 1, nil
}
