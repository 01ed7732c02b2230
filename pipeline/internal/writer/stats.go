package writer

import "sync/atomic"

// Stats holds monotonic pipeline counters shared by the consumer workers
// and their writers. All methods are safe for concurrent use.
type Stats struct {
	processed     atomic.Uint64
	parsedOK      atomic.Uint64
	parseFallback atomic.Uint64
	stored        atomic.Uint64
	schemaErrors  atomic.Uint64
	validationErr atomic.Uint64
	storageErrors atomic.Uint64
	dlqSent       atomic.Uint64
}

func (s *Stats) IncProcessed()        { s.processed.Add(1) }
func (s *Stats) IncParsedOK()         { s.parsedOK.Add(1) }
func (s *Stats) IncParseFallback()    { s.parseFallback.Add(1) }
func (s *Stats) AddStored(n int)      { s.stored.Add(uint64(n)) }
func (s *Stats) IncSchemaErrors()     { s.schemaErrors.Add(1) }
func (s *Stats) IncValidationErrors() { s.validationErr.Add(1) }
func (s *Stats) IncStorageErrors()    { s.storageErrors.Add(1) }
func (s *Stats) IncDLQSent()          { s.dlqSent.Add(1) }

func (s *Stats) Processed() uint64     { return s.processed.Load() }
func (s *Stats) Stored() uint64        { return s.stored.Load() }
func (s *Stats) StorageErrors() uint64 { return s.storageErrors.Load() }
func (s *Stats) DLQSent() uint64       { return s.dlqSent.Load() }

// SuccessRate is the fraction of processed events that parsed into a
// structured form (fallback raw events count against it).
func (s *Stats) SuccessRate() float64 {
	processed := s.processed.Load()
	if processed == 0 {
		return 0
	}
	return float64(s.parsedOK.Load()) / float64(processed)
}

// Snapshot returns a point-in-time copy of every counter for the ops
// endpoint.
func (s *Stats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"processed":         s.processed.Load(),
		"parsed_ok":         s.parsedOK.Load(),
		"parse_fallback":    s.parseFallback.Load(),
		"stored":            s.stored.Load(),
		"schema_errors":     s.schemaErrors.Load(),
		"validation_errors": s.validationErr.Load(),
		"storage_errors":    s.storageErrors.Load(),
		"dlq_sent":          s.dlqSent.Load(),
	}
}
