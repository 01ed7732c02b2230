// Package store queries canonical events in ClickHouse for rule
// evaluation. Rule conditions compile to WHERE clauses over the wide event
// columns; unknown field names fall through to the canonical/custom field
// maps.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/crowlight-systems/crowlight-core/common/models"
)

// maxTriggeringIDs bounds the event IDs attached to one alert.
const maxTriggeringIDs = 16

// Config holds ClickHouse connection settings.
type Config struct {
	Addr         string        `mapstructure:"addr"`
	Database     string        `mapstructure:"database"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
}

// Client wraps the ClickHouse connection for read-side queries.
type Client struct {
	conn driver.Conn
}

// NewClient opens and verifies a ClickHouse connection.
func NewClient(cfg Config) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 4
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

	return &Client{conn: conn}, nil
}

// Conn exposes the underlying connection.
func (c *Client) Conn() driver.Conn { return c.conn }

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// GroupResult is one group_by bucket of events matching a rule's selection
// query within an evaluation window.
type GroupResult struct {
	Key      string
	Count    int64
	EventIDs []string
}

// MatchingGroups runs the rule's selection query over (since, until],
// grouped by the rule's group_by_field.
func (c *Client) MatchingGroups(ctx context.Context, rule *models.RuleDefinition, since, until time.Time) ([]GroupResult, error) {
	groupExpr, groupArgs := fieldExpr(rule.Stateful.GroupByField)
	where, args := buildWhere(rule.TenantID, rule.Query, since, until)

	query := fmt.Sprintf(`
		SELECT %s AS group_key, count() AS cnt, groupArray(%d)(event_id) AS ids
		FROM events
		WHERE %s
		GROUP BY group_key`, groupExpr, maxTriggeringIDs, where)

	rows, err := c.conn.Query(ctx, query, append(groupArgs, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matching groups for rule %s: %w", rule.RuleID, err)
	}
	defer rows.Close()

	var results []GroupResult
	for rows.Next() {
		var g GroupResult
		var cnt uint64
		if err := rows.Scan(&g.Key, &cnt, &g.EventIDs); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		g.Count = int64(cnt)
		results = append(results, g)
	}
	return results, rows.Err()
}

// ResetGroups returns the group keys with at least one event matching the
// rule's reset query over (since, until].
func (c *Client) ResetGroups(ctx context.Context, rule *models.RuleDefinition, since, until time.Time) ([]string, error) {
	if len(rule.Stateful.ResetQuery) == 0 {
		return nil, nil
	}
	groupExpr, groupArgs := fieldExpr(rule.Stateful.GroupByField)
	where, args := buildWhere(rule.TenantID, rule.Stateful.ResetQuery, since, until)

	query := fmt.Sprintf(`
		SELECT DISTINCT %s AS group_key
		FROM events
		WHERE %s`, groupExpr, where)

	rows, err := c.conn.Query(ctx, query, append(groupArgs, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reset groups for rule %s: %w", rule.RuleID, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan reset group: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// columns that rule conditions may address directly; everything else is
// looked up in the field maps.
var eventColumns = map[string]bool{
	"event_id":       true,
	"source_ip":      true,
	"dest_ip":        true,
	"source_type":    true,
	"parser_used":    true,
	"confidence":     true,
	"event_category": true,
	"event_outcome":  true,
	"event_action":   true,
	"raw_event":      true,
}

// fieldExpr returns the SQL expression addressing a condition field plus
// its bind arguments. Field names are never interpolated into SQL.
func fieldExpr(field string) (string, []any) {
	if eventColumns[field] {
		return field, nil
	}
	expr := "if(mapContains(canonical_fields, ?), canonical_fields[?], custom_fields[?])"
	return expr, []any{field, field, field}
}

func buildWhere(tenantID string, q models.Query, since, until time.Time) (string, []any) {
	clauses := []string{"tenant_id = ?", "event_timestamp > ?", "event_timestamp <= ?"}
	args := []any{tenantID, since, until}

	for _, cond := range q {
		expr, exprArgs := fieldExpr(cond.Field)
		args = append(args, exprArgs...)
		switch cond.Operator {
		case models.OpContains:
			clauses = append(clauses, fmt.Sprintf("positionCaseInsensitive(%s, ?) > 0", expr))
		default:
			clauses = append(clauses, fmt.Sprintf("%s = ?", expr))
		}
		args = append(args, cond.Value)
	}
	return strings.Join(clauses, " AND "), args
}
