// Package canonical converts raw event envelopes into canonical events. The
// engine is a total function: any payload, including empty or binary junk,
// yields a canonical event carrying the verbatim raw input.
package canonical

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/crowlight-systems/crowlight-core/common/models"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/alias"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/detector"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/enrich"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/metrics"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/taxonomy"
)

// ParserRaw is recorded when no detector matched.
const ParserRaw = "raw"

// Engine canonicalizes raw events.
type Engine struct {
	registry *detector.Registry
	aliases  *alias.Table
	taxonomy *taxonomy.Mapper
	sources  *enrich.SourceRegistry
	iocs     *enrich.IOCSet
}

// NewEngine constructs the engine. All lookup tables are shared, read-only
// snapshot holders.
func NewEngine(registry *detector.Registry, aliases *alias.Table, tax *taxonomy.Mapper,
	sources *enrich.SourceRegistry, iocs *enrich.IOCSet) *Engine {
	return &Engine{
		registry: registry,
		aliases:  aliases,
		taxonomy: tax,
		sources:  sources,
		iocs:     iocs,
	}
}

// Process converts one raw event into its canonical form. It never fails:
// unmatched payloads are preserved with parser "raw" and very-low
// confidence.
func (e *Engine) Process(raw *models.RawEvent) *models.CanonicalEvent {
	start := time.Now()
	defer func() {
		metrics.CanonicalizeDuration.Observe(time.Since(start).Seconds())
	}()

	sourceType := "unknown"
	hint := ""
	if info, ok := e.sources.Lookup(raw.SourceIP); ok {
		sourceType = info.SourceType
		hint = info.ParserHint
		if hint == "" {
			hint = info.SourceType
		}
	}

	ev := &models.CanonicalEvent{
		EventID:         raw.EventID,
		TenantID:        raw.TenantID,
		SourceIP:        raw.SourceIP,
		SourceType:      sourceType,
		ParserUsed:      ParserRaw,
		Confidence:      models.ConfidenceVeryLow,
		CanonicalFields: map[string]string{},
		CustomFields:    map[string]string{},
		RawEvent:        raw.RawPayload,
	}
	if ev.EventID == "" {
		id, _ := uuid.NewV7()
		ev.EventID = id.String()
	}

	match, ok := e.registry.Detect(raw.RawPayload, hint)
	if ok {
		ev.ParserUsed = match.Parser
		e.resolveFields(ev, match)
		metrics.DetectorMatches.WithLabelValues(match.Parser).Inc()
	} else {
		metrics.ParseFallbacks.Inc()
	}

	ev.EventTimestamp = e.eventTime(ev, raw)
	ev.DestIP = ev.CanonicalFields[detector.FieldDestIP]

	class := e.taxonomy.Load().Classify(sourceType, ev)
	ev.EventCategory = class.Category
	ev.EventOutcome = class.Outcome
	ev.EventAction = class.Action

	ev.IsThreat = e.checkThreat(ev)
	return ev
}

// resolveFields applies alias resolution to detector output, splitting
// canonical from custom fields and normalizing canonical values.
func (e *Engine) resolveFields(ev *models.CanonicalEvent, match *detector.Match) {
	snap := e.aliases.Load()
	for key, value := range match.Fields {
		canonical, ok := snap.Resolve(ev.SourceType, key)
		if !ok {
			ev.CustomFields[key] = value
			continue
		}
		normalized := detector.NormalizeValue(canonical, value)
		// First extraction wins on canonical-name collisions; the loser
		// stays reachable under its original key.
		if _, exists := ev.CanonicalFields[canonical]; exists {
			ev.CustomFields[key] = value
			continue
		}
		ev.CanonicalFields[canonical] = normalized
	}

	extracted := 0
	for _, want := range match.Expected {
		if _, ok := ev.CanonicalFields[want]; ok {
			extracted++
		}
	}
	ev.Confidence = detector.Quantize(extracted, len(match.Expected))
}

// eventTime picks the event timestamp: parsed payload time, then envelope
// time, then envelope receipt time, then now.
func (e *Engine) eventTime(ev *models.CanonicalEvent, raw *models.RawEvent) time.Time {
	if v, ok := ev.CanonicalFields[detector.FieldTimestamp]; ok {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec > 0 {
			return time.Unix(sec, 0).UTC()
		}
		if t, ok := detector.ParseTimestamp(v); ok {
			return t
		}
	}
	if !raw.Timestamp.IsZero() {
		return raw.Timestamp.UTC()
	}
	if !raw.ReceivedAt.IsZero() {
		return raw.ReceivedAt.UTC()
	}
	return time.Now().UTC()
}

// checkThreat tests extracted indicators against the IOC set.
func (e *Engine) checkThreat(ev *models.CanonicalEvent) bool {
	if e.iocs.Contains(ev.SourceIP) {
		return true
	}
	for _, field := range []string{detector.FieldDestIP, detector.FieldFileHash, detector.FieldHostName} {
		if v, ok := ev.CanonicalFields[field]; ok && e.iocs.Contains(v) {
			return true
		}
	}
	return false
}
