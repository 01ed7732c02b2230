package models

import "time"

// AliasOverride remaps a vendor field name to a canonical field for one
// source type. Unique per (source_name, field_alias); lookups are
// case-insensitive on the alias.
type AliasOverride struct {
	SourceName     string    `json:"source_name"`
	FieldAlias     string    `json:"field_alias"`
	CanonicalField string    `json:"canonical_field"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TaxonomyMapping classifies events whose named field contains the match
// value. SourceType "*" rows form the wildcard fallback tier.
type TaxonomyMapping struct {
	SourceType    string `json:"source_type"`
	FieldToCheck  string `json:"field_to_check"`
	ValueToMatch  string `json:"value_to_match"`
	EventCategory string `json:"event_category"`
	EventOutcome  string `json:"event_outcome"`
	EventAction   string `json:"event_action"`
}

// LogSourceConfig maps a producer IP or subnet to its source type and an
// optional parser hint. Source is either a single IP or CIDR notation.
type LogSourceConfig struct {
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	ParserHint string `json:"parser_hint,omitempty"`
}

// ThreatIOC is one indicator-of-compromise value.
type ThreatIOC struct {
	IOCType  string `json:"ioc_type"`
	IOCValue string `json:"ioc_value"`
}
