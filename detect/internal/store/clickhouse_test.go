package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowlight-systems/crowlight-core/common/models"
)

func TestFieldExpr(t *testing.T) {
	expr, args := fieldExpr("source_ip")
	assert.Equal(t, "source_ip", expr)
	assert.Nil(t, args, "wide columns are addressed directly")

	expr, args = fieldExpr("user.name")
	assert.Equal(t, "if(mapContains(canonical_fields, ?), canonical_fields[?], custom_fields[?])", expr)
	assert.Equal(t, []any{"user.name", "user.name", "user.name"}, args,
		"field names bind, never interpolate")
}

func TestBuildWhere_TimeWindowOnly(t *testing.T) {
	since := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	until := since.Add(30 * time.Second)

	where, args := buildWhere("tenant-a", nil, since, until)
	assert.Equal(t, "tenant_id = ? AND event_timestamp > ? AND event_timestamp <= ?", where)
	assert.Equal(t, []any{"tenant-a", since, until}, args)
}

func TestBuildWhere_Conditions(t *testing.T) {
	since := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	until := since.Add(time.Minute)
	query := models.Query{
		{Field: "event_outcome", Operator: models.OpEquals, Value: "failure"},
		{Field: "user.name", Operator: models.OpContains, Value: "admin"},
	}

	where, args := buildWhere("tenant-a", query, since, until)

	assert.Equal(t,
		"tenant_id = ? AND event_timestamp > ? AND event_timestamp <= ?"+
			" AND event_outcome = ?"+
			" AND positionCaseInsensitive(if(mapContains(canonical_fields, ?), canonical_fields[?], custom_fields[?]), ?) > 0",
		where)

	// Map-lookup field args precede the comparison value for each clause.
	require.Len(t, args, 8)
	assert.Equal(t, []any{
		"tenant-a", since, until,
		"failure",
		"user.name", "user.name", "user.name", "admin",
	}, args)
}

func TestBuildWhere_UnknownOperatorFallsBackToEquals(t *testing.T) {
	since := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	query := models.Query{{Field: "source_ip", Operator: "regex", Value: "10\\..*"}}

	where, _ := buildWhere("tenant-a", query, since, since.Add(time.Minute))
	assert.Contains(t, where, "source_ip = ?")
}
