package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestService(t *testing.T) {
	attr := Service("pipeline")
	if attr.Key != FieldService {
		t.Errorf("expected key %q, got %q", FieldService, attr.Key)
	}
	if attr.Value.String() != "pipeline" {
		t.Errorf("expected value %q, got %q", "pipeline", attr.Value.String())
	}
}

func TestTenantID(t *testing.T) {
	attr := TenantID("tenant-a")
	if attr.Key != FieldTenantID {
		t.Errorf("expected key %q, got %q", FieldTenantID, attr.Key)
	}
	if attr.Value.String() != "tenant-a" {
		t.Errorf("expected value %q, got %q", "tenant-a", attr.Value.String())
	}
}

func TestEventID(t *testing.T) {
	attr := EventID("event-xyz-789")
	if attr.Key != FieldEventID {
		t.Errorf("expected key %q, got %q", FieldEventID, attr.Key)
	}
	if attr.Value.String() != "event-xyz-789" {
		t.Errorf("expected value %q, got %q", "event-xyz-789", attr.Value.String())
	}
}

func TestRuleID(t *testing.T) {
	attr := RuleID("brute-force")
	if attr.Key != FieldRuleID {
		t.Errorf("expected key %q, got %q", FieldRuleID, attr.Key)
	}
	if attr.Value.String() != "brute-force" {
		t.Errorf("expected value %q, got %q", "brute-force", attr.Value.String())
	}
}

func TestCount(t *testing.T) {
	attr := Count(42)
	if attr.Key != FieldCount {
		t.Errorf("expected key %q, got %q", FieldCount, attr.Key)
	}
	if attr.Value.Int64() != 42 {
		t.Errorf("expected value %d, got %d", 42, attr.Value.Int64())
	}
}

func TestDuration(t *testing.T) {
	attr := Duration(1234)
	if attr.Key != FieldDuration {
		t.Errorf("expected key %q, got %q", FieldDuration, attr.Key)
	}
	if attr.Value.Int64() != 1234 {
		t.Errorf("expected value %d, got %d", 1234, attr.Value.Int64())
	}
}

func TestError(t *testing.T) {
	err := errors.New("something went wrong")
	attr := Error(err)
	if attr.Key != FieldError {
		t.Errorf("expected key %q, got %q", FieldError, attr.Key)
	}
	if attr.Value.String() != "something went wrong" {
		t.Errorf("expected value %q, got %q", "something went wrong", attr.Value.String())
	}
}

func TestFieldConstants(t *testing.T) {
	// Verify all field constants are defined and non-empty
	fields := map[string]string{
		"FieldService":  FieldService,
		"FieldTenantID": FieldTenantID,
		"FieldEventID":  FieldEventID,
		"FieldRuleID":   FieldRuleID,
		"FieldGroupKey": FieldGroupKey,
		"FieldSubject":  FieldSubject,
		"FieldWorker":   FieldWorker,
		"FieldCount":    FieldCount,
		"FieldDuration": FieldDuration,
		"FieldError":    FieldError,
	}

	for name, value := range fields {
		if value == "" {
			t.Errorf("%s constant is empty", name)
		}
	}
}

func TestFieldHelpers_ReturnsSlogAttr(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
	}{
		{"Service", Service("test")},
		{"TenantID", TenantID("test")},
		{"EventID", EventID("test")},
		{"RuleID", RuleID("test")},
		{"GroupKey", GroupKey("test")},
		{"Subject", Subject("test")},
		{"Worker", Worker(1)},
		{"Count", Count(10)},
		{"Duration", Duration(100)},
		{"Error", Error(errors.New("test"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// If this compiles and runs, the types are correct
			_ = tt.attr.Key
			_ = tt.attr.Value
		})
	}
}
