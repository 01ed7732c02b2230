// Package alias resolves vendor field names to canonical fields. A global
// default mapping covers the common vendor spellings; admin-configured
// per-source overrides supersede it. The active table is an immutable
// snapshot behind an atomic pointer so canonicalization workers never
// observe a partial reload.
package alias

import (
	"strings"
	"sync/atomic"

	"github.com/crowlight-systems/crowlight-core/common/models"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/detector"
)

// defaults maps lowercased vendor field names to canonical fields. Grouped
// by the formats that most often produce them.
var defaults = map[string]string{
	// timestamps
	"timestamp":                     detector.FieldTimestamp,
	"@timestamp":                    detector.FieldTimestamp,
	"_time":                         detector.FieldTimestamp,
	"time":                          detector.FieldTimestamp,
	"event_time":                    detector.FieldTimestamp,
	"eventtime":                     detector.FieldTimestamp,
	"utc_time":                      detector.FieldTimestamp,
	"rt":                            detector.FieldTimestamp,
	"devtime":                       detector.FieldTimestamp,
	"timecreated":                   detector.FieldTimestamp,
	"systemtime":                    detector.FieldTimestamp,
	"system.timecreated.systemtime": detector.FieldTimestamp,

	// source address/port
	"source.ip":      detector.FieldSourceIP,
	"source_ip":      detector.FieldSourceIP,
	"src_ip":         detector.FieldSourceIP,
	"srcip":          detector.FieldSourceIP,
	"src":            detector.FieldSourceIP,
	"source_address": detector.FieldSourceIP,
	"ipaddress":      detector.FieldSourceIP,
	"source.port":    detector.FieldSourcePort,
	"source_port":    detector.FieldSourcePort,
	"src_port":       detector.FieldSourcePort,
	"spt":            detector.FieldSourcePort,
	"sport":          detector.FieldSourcePort,
	"ipport":         detector.FieldSourcePort,

	// destination address/port
	"destination.ip":      detector.FieldDestIP,
	"destination_ip":      detector.FieldDestIP,
	"dest_ip":             detector.FieldDestIP,
	"dst_ip":              detector.FieldDestIP,
	"dstip":               detector.FieldDestIP,
	"dst":                 detector.FieldDestIP,
	"dest":                detector.FieldDestIP,
	"destination_address": detector.FieldDestIP,
	"destination.port":    detector.FieldDestPort,
	"destination_port":    detector.FieldDestPort,
	"dest_port":           detector.FieldDestPort,
	"dst_port":            detector.FieldDestPort,
	"dpt":                 detector.FieldDestPort,
	"dport":               detector.FieldDestPort,

	// user
	"user.name":         detector.FieldUserName,
	"user":              detector.FieldUserName,
	"username":          detector.FieldUserName,
	"user_name":         detector.FieldUserName,
	"suser":             detector.FieldUserName,
	"usrname":           detector.FieldUserName,
	"targetusername":    detector.FieldUserName,
	"target_user_name":  detector.FieldUserName,
	"subjectusername":   detector.FieldUserName,
	"subject_user_name": detector.FieldUserName,
	"acct":              detector.FieldUserName,

	// host
	"host.name": detector.FieldHostName,
	"host":      detector.FieldHostName,
	"hostname":  detector.FieldHostName,
	"computer":  detector.FieldHostName,
	"shost":     detector.FieldHostName,
	"node":      detector.FieldHostName,
	"dvchost":   detector.FieldHostName,

	// process
	"process.name": detector.FieldProcessName,
	"process_name": detector.FieldProcessName,
	"process":      detector.FieldProcessName,
	"sproc":        detector.FieldProcessName,
	"image":        detector.FieldProcessName,
	"exe":          detector.FieldProcessName,
	"comm":         detector.FieldProcessName,

	// classification
	"event.code":     detector.FieldEventCode,
	"eventid":        detector.FieldEventCode,
	"event_id":       detector.FieldEventCode,
	"event_class_id": detector.FieldEventCode,
	"signatureid":    detector.FieldEventCode,
	"event.category": detector.FieldCategory,
	"category":       detector.FieldCategory,
	"cat":            detector.FieldCategory,
	"event.outcome":  detector.FieldOutcome,
	"outcome":        detector.FieldOutcome,
	"status":         detector.FieldOutcome,
	"result":         detector.FieldOutcome,
	"res":            detector.FieldOutcome,
	"event.action":   detector.FieldAction,
	"action":         detector.FieldAction,
	"act":            detector.FieldAction,
	"activity":       detector.FieldAction,

	// network
	"network.protocol": detector.FieldProtocol,
	"protocol":         detector.FieldProtocol,
	"proto":            detector.FieldProtocol,

	// file hashes
	"file.hash": detector.FieldFileHash,
	"hash":      detector.FieldFileHash,
	"hashes":    detector.FieldFileHash,
	"md5":       detector.FieldFileHash,
	"sha1":      detector.FieldFileHash,
	"sha256":    detector.FieldFileHash,
	"filehash":  detector.FieldFileHash,

	// message
	"message": detector.FieldMessage,
	"msg":     detector.FieldMessage,
	"name":    detector.FieldMessage,
}

// Snapshot is an immutable resolution table. Override keys are
// source_name + "\x00" + lowercased alias.
type Snapshot struct {
	overrides map[string]string
}

func overrideKey(sourceName, fieldAlias string) string {
	return sourceName + "\x00" + strings.ToLower(fieldAlias)
}

// BuildSnapshot compiles the override rows into a lookup table. Rows are
// applied in order, so the latest write to a (source_name, field_alias) pair
// wins.
func BuildSnapshot(rows []models.AliasOverride) *Snapshot {
	overrides := make(map[string]string, len(rows))
	for _, row := range rows {
		overrides[overrideKey(row.SourceName, row.FieldAlias)] = row.CanonicalField
	}
	return &Snapshot{overrides: overrides}
}

// Resolve maps a raw field name for the given source to a canonical field.
// Per-source overrides win over the global defaults; an already-canonical
// name passes through. The second return is false when the name has no
// canonical home and belongs in custom_fields.
func (s *Snapshot) Resolve(sourceName, fieldName string) (string, bool) {
	lower := strings.ToLower(fieldName)
	if s != nil {
		if canonical, ok := s.overrides[overrideKey(sourceName, fieldName)]; ok {
			return canonical, true
		}
		if canonical, ok := s.overrides[overrideKey(sourceName, lower)]; ok {
			return canonical, true
		}
	}
	if canonical, ok := defaults[lower]; ok {
		return canonical, true
	}
	if detector.IsCanonical(fieldName) {
		return fieldName, true
	}
	return "", false
}

// Table holds the active snapshot.
type Table struct {
	current atomic.Pointer[Snapshot]
}

// NewTable returns a table with an empty override set.
func NewTable() *Table {
	t := &Table{}
	t.current.Store(BuildSnapshot(nil))
	return t
}

// Load returns the active snapshot. The result must not be mutated.
func (t *Table) Load() *Snapshot {
	return t.current.Load()
}

// Swap atomically replaces the active snapshot.
func (t *Table) Swap(rows []models.AliasOverride) {
	t.current.Store(BuildSnapshot(rows))
}
