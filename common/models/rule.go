package models

import (
	"fmt"
	"strings"
)

// Condition operators supported by rule queries.
const (
	OpEquals   = "eq"
	OpContains = "contains"
)

// Condition is one field test within a rule query. Field names refer to
// canonical event columns or canonical/custom field keys.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"op"`
	Value    string `json:"value"`
}

// Validate checks that the condition is executable.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition field is required")
	}
	switch c.Operator {
	case OpEquals, OpContains:
	default:
		return fmt.Errorf("unsupported operator %q", c.Operator)
	}
	return nil
}

// Query is a conjunction of conditions over stored canonical events.
type Query []Condition

// Validate checks every condition in the query.
func (q Query) Validate() error {
	for i, c := range q {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// StatefulConfig parameterizes sliding-window evaluation of a rule.
type StatefulConfig struct {
	GroupByField  string `json:"group_by_field"`
	Threshold     int64  `json:"threshold"`
	WindowSeconds int    `json:"window_seconds"`
	ResetQuery    Query  `json:"reset_query,omitempty"`
}

// RuleDefinition is a detection rule. Stateful rules accumulate per-group
// counters across evaluation cycles; the selection query picks the events
// that count toward the threshold.
type RuleDefinition struct {
	RuleID     string          `json:"rule_id"`
	TenantID   string          `json:"tenant_id"`
	Query      Query           `json:"query"`
	IsStateful bool            `json:"is_stateful"`
	Stateful   *StatefulConfig `json:"stateful_config,omitempty"`
}

// Validate checks that the rule can be evaluated.
func (r *RuleDefinition) Validate() error {
	if r.RuleID == "" {
		return fmt.Errorf("rule_id is required")
	}
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if err := r.Query.Validate(); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if r.IsStateful {
		if r.Stateful == nil {
			return fmt.Errorf("stateful rule %s has no stateful_config", r.RuleID)
		}
		if r.Stateful.GroupByField == "" {
			return fmt.Errorf("stateful rule %s has no group_by_field", r.RuleID)
		}
		if r.Stateful.Threshold < 1 {
			return fmt.Errorf("stateful rule %s threshold must be >= 1", r.RuleID)
		}
		if r.Stateful.WindowSeconds < 1 {
			return fmt.Errorf("stateful rule %s window_seconds must be >= 1", r.RuleID)
		}
		if err := r.Stateful.ResetQuery.Validate(); err != nil {
			return fmt.Errorf("reset_query: %w", err)
		}
	}
	return nil
}
