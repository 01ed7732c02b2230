// Package taxonomy classifies canonical events into category/outcome/action
// using admin-configured content-match rules. Rules scoped to the event's
// source type are tried first in insertion order; wildcard ("*") rules form
// the fallback tier.
package taxonomy

import (
	"strings"
	"sync/atomic"

	"github.com/crowlight-systems/crowlight-core/common/models"
)

// Defaults applied when no mapping matches.
const (
	DefaultCategory = "Uncategorized"
	DefaultOutcome  = "Unknown"
	DefaultAction   = "Unknown"
)

// Wildcard is the source_type that matches every source.
const Wildcard = "*"

// Classification is the result of taxonomy mapping.
type Classification struct {
	Category string
	Outcome  string
	Action   string
}

// Snapshot is an immutable rule table grouped by source type.
type Snapshot struct {
	bySource map[string][]models.TaxonomyMapping
}

// BuildSnapshot groups mapping rows by source_type, preserving insertion
// order within each group.
func BuildSnapshot(rows []models.TaxonomyMapping) *Snapshot {
	bySource := make(map[string][]models.TaxonomyMapping)
	for _, row := range rows {
		bySource[row.SourceType] = append(bySource[row.SourceType], row)
	}
	return &Snapshot{bySource: bySource}
}

// Classify finds the first matching rule for the event: specific source-type
// rows first, then the wildcard tier. A rule matches when the named field's
// value contains value_to_match case-insensitively.
func (s *Snapshot) Classify(sourceType string, ev *models.CanonicalEvent) Classification {
	if s != nil {
		if c, ok := s.classifyTier(s.bySource[sourceType], ev); ok {
			return c
		}
		if sourceType != Wildcard {
			if c, ok := s.classifyTier(s.bySource[Wildcard], ev); ok {
				return c
			}
		}
	}
	return Classification{
		Category: DefaultCategory,
		Outcome:  DefaultOutcome,
		Action:   DefaultAction,
	}
}

func (s *Snapshot) classifyTier(rules []models.TaxonomyMapping, ev *models.CanonicalEvent) (Classification, bool) {
	for _, rule := range rules {
		value, ok := ev.Field(rule.FieldToCheck)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(value), strings.ToLower(rule.ValueToMatch)) {
			return Classification{
				Category: rule.EventCategory,
				Outcome:  rule.EventOutcome,
				Action:   rule.EventAction,
			}, true
		}
	}
	return Classification{}, false
}

// Mapper holds the active snapshot.
type Mapper struct {
	current atomic.Pointer[Snapshot]
}

// NewMapper returns a mapper with no rules; every event classifies to the
// defaults until the first snapshot is loaded.
func NewMapper() *Mapper {
	m := &Mapper{}
	m.current.Store(BuildSnapshot(nil))
	return m
}

// Load returns the active snapshot.
func (m *Mapper) Load() *Snapshot {
	return m.current.Load()
}

// Swap atomically replaces the active snapshot.
func (m *Mapper) Swap(rows []models.TaxonomyMapping) {
	m.current.Store(BuildSnapshot(rows))
}
