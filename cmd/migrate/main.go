// Command migrate applies versioned SQL files to the BigQuery dataset.
// Applied versions are tracked in schema_migrations; files are applied in
// order and a checksum mismatch on an applied version aborts the run.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"bankfeed/internal/logger"
)

var migrationFilePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

type migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

func main() {
	var (
		projectID = flag.String("project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "GCP project ID")
		datasetID = flag.String("dataset", "bankfeed", "BigQuery dataset ID")
		dir       = flag.String("migrations", "migrations/bigquery", "Path to migrations directory")
	)
	flag.Parse()

	log := logger.New(os.Getenv("LOG_LEVEL"))

	if *projectID == "" {
		log.Fatal().Msg("-project flag or GOOGLE_CLOUD_PROJECT is required")
	}

	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	migrations, err := loadMigrations(*dir, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load migrations")
	}
	log.Info().Int("files", len(migrations)).Str("dataset", *datasetID).Msg("Loaded migration files")

	if err := ensureLedger(ctx, client, *projectID, *datasetID); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	applied, err := appliedVersions(ctx, client, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read applied migrations")
	}

	ran := 0
	for _, m := range migrations {
		if checksum, done := applied[m.Version]; done {
			if checksum != "" && checksum != m.Checksum {
				log.Fatal().Int("version", m.Version).Str("name", m.Name).
					Msg("Checksum mismatch: applied migration differs from file on disk")
			}
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("Already applied")
			continue
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")
		if err := runStatement(ctx, client, m.SQL); err != nil {
			log.Fatal().Err(err).Int("version", m.Version).Str("name", m.Name).Msg("Migration failed")
		}
		if err := recordApplied(ctx, client, *projectID, *datasetID, m); err != nil {
			log.Fatal().Err(err).Int("version", m.Version).Msg("Failed to record migration")
		}
		ran++
	}

	if ran == 0 {
		log.Info().Msg("Dataset is up to date")
	} else {
		log.Info().Int("applied", ran).Msg("Migrations applied")
	}
}

// loadMigrations reads NNNN_name.sql files, substitutes the dataset
// placeholders and returns them sorted by version.
func loadMigrations(dir, projectID, datasetID string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, migration{
			Version: version,
			Name:    name,
			SQL:     sql,
			// Checksum covers the file as written, before substitution, so
			// the ledger tracks the migration itself, not one deployment.
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func parseMigrationName(filename string) (version int, name string, ok bool) {
	matches := migrationFilePattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

func ensureLedger(ctx context.Context, client *bigquery.Client, projectID, datasetID string) error {
	return runStatement(ctx, client, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING
		)
	`, projectID, datasetID))
}

// appliedVersions maps applied version numbers to their recorded checksums.
func appliedVersions(ctx context.Context, client *bigquery.Client, projectID, datasetID string) (map[int]string, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT version, checksum
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version
	`, projectID, datasetID))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}

	applied := make(map[int]string)
	for {
		var row struct {
			Version  int64
			Checksum bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating schema_migrations: %w", err)
		}
		applied[int(row.Version)] = row.Checksum.StringVal
	}
	return applied, nil
}

func recordApplied(ctx context.Context, client *bigquery.Client, projectID, datasetID string, m migration) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.schema_migrations`"+` (version, name, applied_at, checksum)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum)
	`, projectID, datasetID))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
	}
	return runJob(ctx, q)
}

func runStatement(ctx context.Context, client *bigquery.Client, sql string) error {
	return runJob(ctx, client.Query(sql))
}

func runJob(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
