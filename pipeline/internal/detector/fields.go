package detector

// Canonical field names. These are the vendor-independent attributes the
// pipeline normalizes into; everything else an event carries lands in
// custom_fields under its original key.
const (
	FieldTimestamp   = "timestamp"
	FieldSourceIP    = "source.ip"
	FieldSourcePort  = "source.port"
	FieldDestIP      = "destination.ip"
	FieldDestPort    = "destination.port"
	FieldUserName    = "user.name"
	FieldHostName    = "host.name"
	FieldProcessName = "process.name"
	FieldEventCode   = "event.code"
	FieldCategory    = "event.category"
	FieldOutcome     = "event.outcome"
	FieldAction      = "event.action"
	FieldProtocol    = "network.protocol"
	FieldFileHash    = "file.hash"
	FieldMessage     = "message"
)

var canonicalFields = map[string]struct{}{
	FieldTimestamp:   {},
	FieldSourceIP:    {},
	FieldSourcePort:  {},
	FieldDestIP:      {},
	FieldDestPort:    {},
	FieldUserName:    {},
	FieldHostName:    {},
	FieldProcessName: {},
	FieldEventCode:   {},
	FieldCategory:    {},
	FieldOutcome:     {},
	FieldAction:      {},
	FieldProtocol:    {},
	FieldFileHash:    {},
	FieldMessage:     {},
}

// IsCanonical reports whether name is a canonical field.
func IsCanonical(name string) bool {
	_, ok := canonicalFields[name]
	return ok
}
