package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/catalog/filestore"
	"github.com/pingsantohq/smokestack/internal/catalog/sqlstore"
)

type Direction string

const (
	FileToDatabase Direction = "FILE_TO_DATABASE"
	DatabaseToFile Direction = "DATABASE_TO_FILE"
)

// ParseDirection accepts FILE_TO_DATABASE in any case with '-' or '_'
// separators, plus the short forms "to-database" and "yaml-to-db".
func ParseDirection(s string) (Direction, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	switch norm {
	case "", string(FileToDatabase), "TO_DATABASE", "YAML_TO_DB":
		return FileToDatabase, nil
	case string(DatabaseToFile), "TO_FILE", "DB_TO_YAML":
		return DatabaseToFile, nil
	}
	return "", catalog.Invalid("direction", "unknown migration direction %q", s)
}

type MigrationReport struct {
	ID              string    `json:"id"`
	Direction       Direction `json:"direction"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	AlreadyMigrated bool      `json:"already_migrated"`
	BackupPath      string    `json:"backup_path,omitempty"`
	Categories      int       `json:"categories"`
	Probes          int       `json:"probes"`
	Sources         int       `json:"sources"`
	Targets         int       `json:"targets"`
	Retired         int       `json:"retired"`
	Skipped         int       `json:"skipped"`
	Warnings        []string  `json:"warnings,omitempty"`
}

// Migrate copies the YAML catalog into the relational store and makes the
// store authoritative. Only FILE_TO_DATABASE is supported. Running it again
// after success reports AlreadyMigrated and writes nothing to the store.
func (r *Resolver) Migrate(ctx context.Context, dir Direction) (MigrationReport, error) {
	if dir != FileToDatabase {
		return MigrationReport{}, catalog.Invalid("direction", "only %s is supported", FileToDatabase)
	}
	if r.db == nil {
		return MigrationReport{}, catalog.Unavailable("database", errors.New("no database configured"))
	}

	report := MigrationReport{
		ID:        uuid.NewString(),
		Direction: dir,
		StartedAt: r.now().UTC(),
	}
	logger := r.logger.With("migration", report.ID)

	st := r.db.Status(ctx)
	if !st.Reachable {
		return report, catalog.Unavailable("database", st.Err)
	}
	if err := r.db.EnsureSchema(ctx); err != nil {
		return report, &catalog.MigrationError{Stage: "schema", Err: err}
	}
	if st.Migrated {
		return r.alreadyMigrated(report, st.MigratedAt), nil
	}

	snap, err := r.file.Snapshot(ctx)
	if err != nil {
		return report, &catalog.MigrationError{Stage: "read", Err: err}
	}
	backup, err := r.file.Backup(report.StartedAt)
	if err != nil {
		return report, &catalog.MigrationError{Stage: "backup", Err: err}
	}
	report.BackupPath = backup
	logger.Info("catalog backed up", "path", backup)

	counts, err := r.db.ImportSnapshot(ctx, snap, report.StartedAt, report.ID)
	if errors.Is(err, sqlstore.ErrAlreadyMigrated) {
		return r.alreadyMigrated(report, time.Time{}), nil
	}
	if err != nil {
		logger.Error("migration rolled back", "err", err, "backup", backup)
		return report, &catalog.MigrationError{Stage: "import", BackupPath: backup, Err: err}
	}
	report.Categories = counts.Categories
	report.Probes = counts.Probes
	report.Sources = counts.Sources
	report.Targets = counts.Targets
	report.Retired = counts.Retired
	report.Skipped = counts.Skipped
	if counts.Skipped > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d targets already present in the database were left unchanged", counts.Skipped))
	}

	marker := filestore.Marker{
		Authority:  catalog.ModeDatabase,
		MigratedAt: report.StartedAt,
		ReportID:   report.ID,
		BackupPath: backup,
	}
	if err := r.file.WriteMarker(marker); err != nil {
		report.Warnings = append(report.Warnings, "file-side migration marker not written: "+err.Error())
		logger.Warn("write migration marker", "err", err)
	}
	report.FinishedAt = r.now().UTC()
	logger.Info("catalog migrated", "targets", report.Targets, "categories", report.Categories,
		"probes", report.Probes, "skipped", report.Skipped)

	if _, err := r.ResolveMode(ctx); err != nil {
		logger.Warn("resolve mode after migration", "err", err)
	}
	return report, nil
}

// alreadyMigrated completes a report for a store that already carries the
// marker. A missing file-side marker is restored so a later outage is
// detected as degraded rather than silently serving FILE writes.
func (r *Resolver) alreadyMigrated(report MigrationReport, at time.Time) MigrationReport {
	report.AlreadyMigrated = true
	report.FinishedAt = r.now().UTC()
	if _, present, err := r.file.ReadMarker(); err == nil && !present {
		if at.IsZero() {
			at = report.StartedAt
		}
		if err := r.file.WriteMarker(filestore.Marker{Authority: catalog.ModeDatabase, MigratedAt: at}); err != nil {
			report.Warnings = append(report.Warnings, "file-side migration marker not written: "+err.Error())
		}
	}
	r.logger.Info("catalog already migrated", "migration", report.ID)
	return report
}
