package logging

import "log/slog"

// Common field names for consistent logging across services.
const (
	FieldService  = "service"
	FieldTenantID = "tenant_id"
	FieldEventID  = "event_id"
	FieldRuleID   = "rule_id"
	FieldGroupKey = "group_key"
	FieldSubject  = "subject"
	FieldWorker   = "worker"
	FieldCount    = "count"
	FieldDuration = "duration_ms"
	FieldError    = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// TenantID returns a slog attribute for the tenant ID.
func TenantID(id string) slog.Attr {
	return slog.String(FieldTenantID, id)
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// RuleID returns a slog attribute for a rule ID.
func RuleID(id string) slog.Attr {
	return slog.String(FieldRuleID, id)
}

// GroupKey returns a slog attribute for a counter group key.
func GroupKey(key string) slog.Attr {
	return slog.String(FieldGroupKey, key)
}

// Subject returns a slog attribute for a message bus subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// Worker returns a slog attribute for a worker index.
func Worker(id int) slog.Attr {
	return slog.Int(FieldWorker, id)
}

// Count returns a slog attribute for an item count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
