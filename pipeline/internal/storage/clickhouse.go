// Package storage persists canonical events in ClickHouse. One wide row per
// event, ordered by (tenant_id, event_timestamp, event_id); canonical and
// custom fields are open Map columns so new vendor fields need no schema
// change.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/crowlight-systems/crowlight-core/common/models"
)

// Config holds ClickHouse connection settings.
type Config struct {
	Addr         string        `mapstructure:"addr"`
	Database     string        `mapstructure:"database"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
}

// Client wraps the ClickHouse connection.
type Client struct {
	conn driver.Conn
	db   string
}

// NewClient opens and verifies a ClickHouse connection.
func NewClient(cfg Config) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 10
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: dialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: maxOpen,
		MaxIdleConns: maxOpen / 2,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &Client{conn: conn, db: cfg.Database}, nil
}

// Conn exposes the underlying connection for query components.
func (c *Client) Conn() driver.Conn { return c.conn }

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Migrate creates the events table if it does not exist.
func (c *Client) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS events (
			tenant_id        String,
			event_id         String,
			event_timestamp  DateTime64(3, 'UTC'),
			received_at      DateTime64(3, 'UTC'),
			source_ip        String,
			dest_ip          String,
			source_type      String,
			parser_used      String,
			confidence       LowCardinality(String),
			canonical_fields Map(String, String),
			custom_fields    Map(String, String),
			event_category   LowCardinality(String),
			event_outcome    LowCardinality(String),
			event_action     LowCardinality(String),
			is_threat        UInt8,
			raw_event        String
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(event_timestamp)
		ORDER BY (tenant_id, event_timestamp, event_id)`
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	return nil
}

// InsertEvents writes a batch of canonical events in one bulk operation.
func (c *Client) InsertEvents(ctx context.Context, events []*models.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO events (
			tenant_id, event_id, event_timestamp, received_at,
			source_ip, dest_ip, source_type, parser_used, confidence,
			canonical_fields, custom_fields,
			event_category, event_outcome, event_action, is_threat, raw_event
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, ev := range events {
		if err := appendEvent(batch, ev); err != nil {
			return fmt.Errorf("failed to append event %s: %w", ev.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// InsertEvent writes a single event; the writer falls back to this when a
// bulk insert fails terminally.
func (c *Client) InsertEvent(ctx context.Context, ev *models.CanonicalEvent) error {
	return c.InsertEvents(ctx, []*models.CanonicalEvent{ev})
}

func appendEvent(batch driver.Batch, ev *models.CanonicalEvent) error {
	isThreat := uint8(0)
	if ev.IsThreat {
		isThreat = 1
	}
	received := ev.EventTimestamp
	return batch.Append(
		ev.TenantID,
		ev.EventID,
		ev.EventTimestamp,
		received,
		ev.SourceIP,
		ev.DestIP,
		ev.SourceType,
		ev.ParserUsed,
		string(ev.Confidence),
		ev.CanonicalFields,
		ev.CustomFields,
		ev.EventCategory,
		ev.EventOutcome,
		ev.EventAction,
		isThreat,
		ev.RawEvent,
	)
}

// SearchRaw returns event IDs whose raw payload contains the needle, scoped
// to one tenant. Unparsed events remain reachable through this path.
func (c *Client) SearchRaw(ctx context.Context, tenantID, needle string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.conn.Query(ctx, `
		SELECT event_id
		FROM events
		WHERE tenant_id = ? AND positionCaseInsensitive(raw_event, ?) > 0
		ORDER BY event_timestamp DESC
		LIMIT ?`, tenantID, needle, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search raw events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
