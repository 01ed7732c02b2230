package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowlight-systems/crowlight-core/common/models"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/alias"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/detector"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/enrich"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/taxonomy"
)

func newTestEngine() *Engine {
	return NewEngine(detector.DefaultRegistry(), alias.NewTable(), taxonomy.NewMapper(),
		enrich.NewSourceRegistry(), enrich.NewIOCSet())
}

func rawEvent(payload string) *models.RawEvent {
	return &models.RawEvent{
		TenantID:   "tenant-a",
		SourceIP:   "192.0.2.10",
		RawPayload: payload,
		ReceivedAt: time.Now().UTC(),
	}
}

func TestEngine_IsTotal(t *testing.T) {
	engine := newTestEngine()

	inputs := []string{
		"",
		"This is not JSON or Syslog @#$%",
		`{"truncated": "js`,
		"\x00\x01binary\xffgarbage",
	}
	for _, in := range inputs {
		var ev *models.CanonicalEvent
		assert.NotPanics(t, func() {
			ev = engine.Process(rawEvent(in))
		}, "input %q", in)
		require.NotNil(t, ev)
		assert.Equal(t, in, ev.RawEvent, "raw payload preserved verbatim")
	}
}

func TestEngine_RawFallback(t *testing.T) {
	engine := newTestEngine()

	ev := engine.Process(rawEvent("This is not JSON or Syslog @#$%"))
	assert.Equal(t, ParserRaw, ev.ParserUsed)
	assert.Equal(t, models.ConfidenceVeryLow, ev.Confidence)
	assert.Equal(t, "This is not JSON or Syslog @#$%", ev.RawEvent)
	assert.Empty(t, ev.CanonicalFields)
	assert.NotEmpty(t, ev.EventID, "fallback events still get an ID")
}

func TestEngine_FullECSEventScoresVeryHigh(t *testing.T) {
	engine := newTestEngine()

	ev := engine.Process(rawEvent(`{
		"@timestamp": "2026-08-30T10:00:00Z",
		"ecs": {"version": "8.11"},
		"event": {"category": "Authentication", "outcome": "FAILURE", "action": "User_Login"},
		"source": {"ip": "203.0.113.9"},
		"destination": {"ip": "10.0.0.1"},
		"user": {"name": "alice"},
		"host": {"name": "bastion-1"},
		"message": "Failed login"
	}`))

	assert.Equal(t, "ecs_json", ev.ParserUsed)
	assert.Equal(t, models.ConfidenceVeryHigh, ev.Confidence)

	assert.Equal(t, "203.0.113.9", ev.CanonicalFields[detector.FieldSourceIP])
	assert.Equal(t, "10.0.0.1", ev.CanonicalFields[detector.FieldDestIP])
	assert.Equal(t, "10.0.0.1", ev.DestIP)
	assert.Equal(t, "alice", ev.CanonicalFields[detector.FieldUserName])
	assert.Equal(t, "bastion-1", ev.CanonicalFields[detector.FieldHostName])
	// Enum values are normalized to lowercase.
	assert.Equal(t, "authentication", ev.CanonicalFields[detector.FieldCategory])
	assert.Equal(t, "failure", ev.CanonicalFields[detector.FieldOutcome])
	assert.Equal(t, "user_login", ev.CanonicalFields[detector.FieldAction])

	// Payload timestamp wins over envelope times.
	assert.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), ev.EventTimestamp)
}

func TestEngine_UnknownFieldsLandInCustom(t *testing.T) {
	engine := newTestEngine()

	ev := engine.Process(rawEvent(`{"x_vendor_blob":"abc","src_ip":"10.1.1.1"}`))
	assert.Equal(t, "json", ev.ParserUsed)
	assert.Equal(t, "10.1.1.1", ev.CanonicalFields[detector.FieldSourceIP])
	assert.Equal(t, "abc", ev.CustomFields["x_vendor_blob"])
}

func TestEngine_EnvelopeTimestampFallback(t *testing.T) {
	engine := newTestEngine()

	envelope := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	raw := rawEvent("no timestamps in here at all")
	raw.Timestamp = envelope

	ev := engine.Process(raw)
	assert.Equal(t, envelope, ev.EventTimestamp)

	// Without an envelope timestamp, receipt time is used.
	received := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	raw = rawEvent("still no timestamps")
	raw.ReceivedAt = received

	ev = engine.Process(raw)
	assert.Equal(t, received, ev.EventTimestamp)
}

func TestEngine_ProvidedEventIDKept(t *testing.T) {
	engine := newTestEngine()

	raw := rawEvent("payload")
	raw.EventID = "11111111-2222-3333-4444-555555555555"

	ev := engine.Process(raw)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", ev.EventID)
}

func TestEngine_SourceRegistryHint(t *testing.T) {
	engine := newTestEngine()
	engine.sources.Swap([]models.LogSourceConfig{
		{Source: "192.0.2.0/24", SourceType: "syslog"},
	})

	ev := engine.Process(rawEvent("<34>Aug 30 10:15:32 bastion-1 sshd[2811]: Failed password for root"))
	assert.Equal(t, "syslog", ev.SourceType)
	assert.Equal(t, "syslog_rfc3164", ev.ParserUsed)
}

func TestEngine_ThreatFlag(t *testing.T) {
	engine := newTestEngine()
	engine.iocs.Swap([]models.ThreatIOC{
		{IOCType: "ip", IOCValue: "203.0.113.99"},
	})

	ev := engine.Process(rawEvent(`{"dst_ip":"203.0.113.99","src_ip":"10.0.0.1"}`))
	assert.True(t, ev.IsThreat)

	ev = engine.Process(rawEvent(`{"dst_ip":"10.9.9.9","src_ip":"10.0.0.1"}`))
	assert.False(t, ev.IsThreat)

	// Envelope source IP is checked, too.
	raw := rawEvent("just text payload here")
	raw.SourceIP = "203.0.113.99"
	ev = engine.Process(raw)
	assert.True(t, ev.IsThreat)
}

func TestEngine_TaxonomyApplied(t *testing.T) {
	engine := newTestEngine()
	engine.taxonomy.Swap([]models.TaxonomyMapping{
		{SourceType: taxonomy.Wildcard, FieldToCheck: "message", ValueToMatch: "failed password",
			EventCategory: "Authentication", EventOutcome: "Failure", EventAction: "Login"},
	})

	ev := engine.Process(rawEvent("<34>Aug 30 10:15:32 bastion-1 sshd[2811]: Failed password for root"))
	assert.Equal(t, "Authentication", ev.EventCategory)
	assert.Equal(t, "Failure", ev.EventOutcome)
	assert.Equal(t, "Login", ev.EventAction)

	ev = engine.Process(rawEvent("unclassifiable payload"))
	assert.Equal(t, taxonomy.DefaultCategory, ev.EventCategory)
	assert.Equal(t, taxonomy.DefaultOutcome, ev.EventOutcome)
	assert.Equal(t, taxonomy.DefaultAction, ev.EventAction)
}
