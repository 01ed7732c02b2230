// Package controlplane provides read access to admin-managed configuration:
// alias overrides, taxonomy mappings, log sources, threat IOCs, and rule
// definitions. The core never writes these tables; CRUD belongs to the
// management API, which signals changes on the control.reload.* subjects.
package controlplane

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const queryTimeout = 5 * time.Second

// Repository reads control-plane tables.
type Repository interface {
	ListAliasOverrides(ctx context.Context) ([]models.AliasOverride, error)
	ListTaxonomyMappings(ctx context.Context) ([]models.TaxonomyMapping, error)
	ListLogSources(ctx context.Context) ([]models.LogSourceConfig, error)
	ListIOCs(ctx context.Context) ([]models.ThreatIOC, error)
	ListStatefulRules(ctx context.Context) ([]*models.RuleDefinition, error)
	Close()
}

// PostgresRepository implements Repository over a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to Postgres and verifies the connection.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(connString string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, connString)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// ListAliasOverrides returns all alias overrides ordered by update time, so a
// later write to the same (source_name, field_alias) pair wins when the
// snapshot is built.
func (r *PostgresRepository) ListAliasOverrides(ctx context.Context) ([]models.AliasOverride, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT source_name, field_alias, canonical_field, updated_at
		FROM alias_overrides
		ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alias overrides: %w", err)
	}
	defer rows.Close()

	var out []models.AliasOverride
	for rows.Next() {
		var o models.AliasOverride
		if err := rows.Scan(&o.SourceName, &o.FieldAlias, &o.CanonicalField, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alias override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListTaxonomyMappings returns taxonomy rows in insertion order; first match
// wins during classification.
func (r *PostgresRepository) ListTaxonomyMappings(ctx context.Context) ([]models.TaxonomyMapping, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT source_type, field_to_check, value_to_match,
		       event_category, event_outcome, event_action
		FROM taxonomy_mappings
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query taxonomy mappings: %w", err)
	}
	defer rows.Close()

	var out []models.TaxonomyMapping
	for rows.Next() {
		var m models.TaxonomyMapping
		if err := rows.Scan(&m.SourceType, &m.FieldToCheck, &m.ValueToMatch,
			&m.EventCategory, &m.EventOutcome, &m.EventAction); err != nil {
			return nil, fmt.Errorf("failed to scan taxonomy mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListLogSources returns the log-source registry.
func (r *PostgresRepository) ListLogSources(ctx context.Context) ([]models.LogSourceConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT source, source_type, COALESCE(parser_hint, '')
		FROM log_sources`)
	if err != nil {
		return nil, fmt.Errorf("failed to query log sources: %w", err)
	}
	defer rows.Close()

	var out []models.LogSourceConfig
	for rows.Next() {
		var s models.LogSourceConfig
		if err := rows.Scan(&s.Source, &s.SourceType, &s.ParserHint); err != nil {
			return nil, fmt.Errorf("failed to scan log source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListIOCs returns the full threat-IOC set.
func (r *PostgresRepository) ListIOCs(ctx context.Context) ([]models.ThreatIOC, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT ioc_type, ioc_value FROM threat_iocs`)
	if err != nil {
		return nil, fmt.Errorf("failed to query threat iocs: %w", err)
	}
	defer rows.Close()

	var out []models.ThreatIOC
	for rows.Next() {
		var i models.ThreatIOC
		if err := rows.Scan(&i.IOCType, &i.IOCValue); err != nil {
			return nil, fmt.Errorf("failed to scan threat ioc: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// ListStatefulRules returns enabled stateful rule definitions. Query and
// stateful_config columns are JSONB. Rows whose JSON does not decode are
// skipped so one malformed rule cannot poison a refresh; semantic
// validation is the caller's job.
func (r *PostgresRepository) ListStatefulRules(ctx context.Context) ([]*models.RuleDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT rule_id, tenant_id, query, is_stateful, stateful_config
		FROM rule_definitions
		WHERE enabled AND is_stateful`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule definitions: %w", err)
	}
	defer rows.Close()

	var out []*models.RuleDefinition
	for rows.Next() {
		var (
			rule         models.RuleDefinition
			queryJSON    []byte
			statefulJSON []byte
		)
		if err := rows.Scan(&rule.RuleID, &rule.TenantID, &queryJSON, &rule.IsStateful, &statefulJSON); err != nil {
			return nil, fmt.Errorf("failed to scan rule definition: %w", err)
		}
		if err := json.Unmarshal(queryJSON, &rule.Query); err != nil {
			logging.Default().Warn("skipping rule with malformed query",
				logging.RuleID(rule.RuleID), logging.Error(err))
			continue
		}
		if len(statefulJSON) > 0 {
			rule.Stateful = &models.StatefulConfig{}
			if err := json.Unmarshal(statefulJSON, rule.Stateful); err != nil {
				logging.Default().Warn("skipping rule with malformed stateful_config",
					logging.RuleID(rule.RuleID), logging.Error(err))
				continue
			}
		}
		out = append(out, &rule)
	}
	return out, rows.Err()
}
