// Package models defines the event data model shared by the pipeline and
// detect services.
package models

import (
	"encoding/json"
	"time"
)

// Confidence is the quantized parse-quality tier assigned by the
// canonicalization engine.
type Confidence string

const (
	ConfidenceVeryLow  Confidence = "very_low"
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceVeryHigh Confidence = "very_high"
)

// RawEvent is the envelope published by upstream producers on the raw-events
// subject. Timestamp and payload accept aliased field names; see UnmarshalJSON.
type RawEvent struct {
	EventID    string    `json:"event_id,omitempty"`
	TenantID   string    `json:"tenant_id"`
	SourceIP   string    `json:"source_ip"`
	Timestamp  time.Time `json:"event_timestamp,omitempty"`
	RawPayload string    `json:"raw_event"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// rawEventWire mirrors RawEvent with every accepted alias spelled out.
// Unrecognized fields are dropped by encoding/json, keeping the contract
// forward-compatible.
type rawEventWire struct {
	EventID        string  `json:"event_id"`
	TenantID       string  `json:"tenant_id"`
	SourceIP       string  `json:"source_ip"`
	Timestamp      float64 `json:"timestamp"`
	EventTimestamp float64 `json:"event_timestamp"`
	RawEvent       string  `json:"raw_event"`
	RawMessage     string  `json:"raw_message"`
	Message        string  `json:"message"`
	ReceivedAt     float64 `json:"received_at"`
}

// UnmarshalJSON decodes the wire envelope, resolving field aliases:
// event_timestamp wins over timestamp, raw_event over raw_message over
// message. Epoch timestamps may carry fractional seconds.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var w rawEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.EventID = w.EventID
	e.TenantID = w.TenantID
	e.SourceIP = w.SourceIP

	ts := w.EventTimestamp
	if ts == 0 {
		ts = w.Timestamp
	}
	if ts > 0 {
		e.Timestamp = epochToTime(ts)
	} else {
		e.Timestamp = time.Time{}
	}

	switch {
	case w.RawEvent != "":
		e.RawPayload = w.RawEvent
	case w.RawMessage != "":
		e.RawPayload = w.RawMessage
	default:
		e.RawPayload = w.Message
	}

	if w.ReceivedAt > 0 {
		e.ReceivedAt = epochToTime(w.ReceivedAt)
	} else {
		e.ReceivedAt = time.Time{}
	}
	return nil
}

func epochToTime(sec float64) time.Time {
	whole := int64(sec)
	frac := sec - float64(whole)
	return time.Unix(whole, int64(frac*float64(time.Second))).UTC()
}

// CanonicalEvent is the normalized form of a raw event. RawEvent always holds
// the verbatim input payload, even when no detector matched.
type CanonicalEvent struct {
	EventID         string            `json:"event_id"`
	TenantID        string            `json:"tenant_id"`
	EventTimestamp  time.Time         `json:"event_timestamp"`
	SourceIP        string            `json:"source_ip"`
	DestIP          string            `json:"dest_ip,omitempty"`
	SourceType      string            `json:"source_type"`
	ParserUsed      string            `json:"parser_used"`
	Confidence      Confidence        `json:"confidence"`
	CanonicalFields map[string]string `json:"canonical_fields"`
	CustomFields    map[string]string `json:"custom_fields"`
	EventCategory   string            `json:"event_category"`
	EventOutcome    string            `json:"event_outcome"`
	EventAction     string            `json:"event_action"`
	IsThreat        bool              `json:"is_threat"`
	RawEvent        string            `json:"raw_event"`
}

// Field returns the named canonical field, falling back to custom fields.
func (e *CanonicalEvent) Field(name string) (string, bool) {
	if v, ok := e.CanonicalFields[name]; ok {
		return v, true
	}
	v, ok := e.CustomFields[name]
	return v, ok
}

// DLQEntry is the payload written to the dead-letter topic for events that
// could not be delivered to the event store.
type DLQEntry struct {
	RawPayload    string    `json:"raw_payload"`
	ErrorCategory string    `json:"error_category"`
	ErrorDetail   string    `json:"error_detail"`
	RetryCount    int       `json:"retry_count"`
	TenantID      string    `json:"tenant_id"`
	FirstSeen     time.Time `json:"first_seen"`
}

// Alert is emitted on threshold breach of a stateful rule.
type Alert struct {
	AlertID            string    `json:"alert_id"`
	RuleID             string    `json:"rule_id"`
	TenantID           string    `json:"tenant_id"`
	GroupKey           string    `json:"group_key"`
	TriggeringEventIDs []string  `json:"triggering_event_ids"`
	CreatedAt          time.Time `json:"created_at"`
}
