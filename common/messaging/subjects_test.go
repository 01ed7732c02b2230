package messaging

import (
	"strings"
	"testing"
)

func TestSubjectConstants_Defined(t *testing.T) {
	subjects := map[string]string{
		"SubjectEventsRaw":        SubjectEventsRaw,
		"SubjectEventsDLQPrefix":  SubjectEventsDLQPrefix,
		"SubjectDetectAlerts":     SubjectDetectAlerts,
		"SubjectReloadAliases":    SubjectReloadAliases,
		"SubjectReloadTaxonomy":   SubjectReloadTaxonomy,
		"SubjectReloadLogSources": SubjectReloadLogSources,
		"SubjectReloadIOCs":       SubjectReloadIOCs,
		"SubjectReloadRules":      SubjectReloadRules,
	}

	for name, value := range subjects {
		if value == "" {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestSubjectConstants_ReloadDomain(t *testing.T) {
	reloadSubjects := []string{
		SubjectReloadAliases,
		SubjectReloadTaxonomy,
		SubjectReloadLogSources,
		SubjectReloadIOCs,
		SubjectReloadRules,
	}

	for _, subject := range reloadSubjects {
		if !strings.HasPrefix(subject, "control.reload.") {
			t.Errorf("reload subject %q should start with 'control.reload.'", subject)
		}
	}
}

func TestQueueConstants_NoDots(t *testing.T) {
	// Queue names are not subjects and must not contain dots.
	if strings.Contains(QueuePipelineWorkers, ".") {
		t.Errorf("queue name %q should not contain dots", QueuePipelineWorkers)
	}
}

func TestDLQSubject(t *testing.T) {
	tests := []struct {
		category string
		expected string
	}{
		{"storage_error", "events.dlq.storage_error"},
		{"schema_error", "events.dlq.schema_error"},
		{"validation_error", "events.dlq.validation_error"},
	}

	for _, tt := range tests {
		if got := DLQSubject(tt.category); got != tt.expected {
			t.Errorf("DLQSubject(%q) = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestDLQSubject_UnderPrefix(t *testing.T) {
	if !strings.HasPrefix(DLQSubject("storage_error"), SubjectEventsDLQPrefix+".") {
		t.Errorf("DLQ subjects must sit under %q", SubjectEventsDLQPrefix)
	}
}
