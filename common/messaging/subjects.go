package messaging

// Subject constants for the Crowlight message bus.
// Follow the pattern: {domain}.{action/resource}
const (
	// SubjectEventsRaw carries raw event envelopes from producers.
	SubjectEventsRaw = "events.raw"

	// SubjectEventsDLQPrefix is the dead-letter prefix; the error category
	// is appended (events.dlq.storage_error).
	SubjectEventsDLQPrefix = "events.dlq"

	// SubjectDetectAlerts carries alerts emitted by the detect service.
	SubjectDetectAlerts = "detect.alerts"

	// Control-plane reload signals. Payload is empty; the subject names the
	// table that changed.
	SubjectReloadAliases    = "control.reload.aliases"
	SubjectReloadTaxonomy   = "control.reload.taxonomy"
	SubjectReloadLogSources = "control.reload.logsources"
	SubjectReloadIOCs       = "control.reload.iocs"
	SubjectReloadRules      = "control.reload.rules"
)

// Queue group names for load-balanced consumers.
const (
	// QueuePipelineWorkers is the pool of canonicalization workers; each
	// raw event is processed by exactly one worker.
	QueuePipelineWorkers = "pipeline-workers"
)

// DLQSubject returns the dead-letter subject for an error category.
// Example: events.dlq.storage_error
func DLQSubject(category string) string {
	return SubjectEventsDLQPrefix + "." + category
}
