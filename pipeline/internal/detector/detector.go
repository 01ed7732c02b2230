// Package detector implements multi-format detection of raw security event
// payloads. Detectors are ordered; the first structural match wins and its
// extracted fields feed alias resolution downstream.
package detector

import (
	"fmt"
)

// Detector attempts to recognize and extract fields from one payload format.
// Implementations must be total: any input returns (nil, false) rather than
// an error or panic.
type Detector interface {
	// Name is recorded as parser_used on matched events.
	Name() string

	// SourceTypes returns the source-type hints this detector is tagged
	// for. Empty means the detector is generic.
	SourceTypes() []string

	// Expected returns the canonical fields this detector can extract,
	// used to score parse confidence.
	Expected() []string

	// Detect tests the structural precondition and, on match, extracts
	// fields keyed by the detector's native names.
	Detect(payload string) (map[string]string, bool)
}

// Registry holds detectors in priority order.
type Registry struct {
	detectors []Detector
}

// NewRegistry constructs a registry with detectors in the given priority
// order.
func NewRegistry(detectors ...Detector) *Registry {
	return &Registry{detectors: detectors}
}

// DefaultRegistry returns the standard detector ordering: structured JSON
// dialects first, then delimited wire formats, then loose text formats.
// Vendor detectors slot in ahead of the generic key-value fallback.
func DefaultRegistry(vendor ...Detector) *Registry {
	detectors := []Detector{
		&ECSJSONDetector{},
		&CIMJSONDetector{},
		&WindowsEventDetector{},
		&GenericJSONDetector{},
		&CEFDetector{},
		&LEEFDetector{},
	}
	detectors = append(detectors, vendor...)
	detectors = append(detectors,
		&KeyValueDetector{},
		&SyslogDetector{},
	)
	return NewRegistry(detectors...)
}

// Match is the outcome of a successful detection.
type Match struct {
	Parser   string
	Fields   map[string]string
	Expected []string
}

// Detect runs detectors against the payload. Detectors tagged for the
// source-type hint are tried first in priority order, then the remainder.
// Returns false when nothing matched.
func (r *Registry) Detect(payload, sourceTypeHint string) (*Match, bool) {
	if sourceTypeHint != "" {
		for _, d := range r.detectors {
			if !taggedFor(d, sourceTypeHint) {
				continue
			}
			if m, ok := attempt(d, payload); ok {
				return m, true
			}
		}
	}
	for _, d := range r.detectors {
		if sourceTypeHint != "" && taggedFor(d, sourceTypeHint) {
			continue // already tried in the hint pass
		}
		if m, ok := attempt(d, payload); ok {
			return m, true
		}
	}
	return nil, false
}

// attempt isolates a single detector. A misbehaving detector must never take
// down the pipeline; a panic counts as no match.
func attempt(d Detector, payload string) (m *Match, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m, ok = nil, false
		}
	}()

	fields, matched := d.Detect(payload)
	if !matched {
		return nil, false
	}
	return &Match{
		Parser:   d.Name(),
		Fields:   fields,
		Expected: d.Expected(),
	}, true
}

func taggedFor(d Detector, sourceType string) bool {
	for _, t := range d.SourceTypes() {
		if t == sourceType {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer for diagnostics.
func (r *Registry) String() string {
	names := make([]string, 0, len(r.detectors))
	for _, d := range r.detectors {
		names = append(names, d.Name())
	}
	return fmt.Sprintf("detectors%v", names)
}
