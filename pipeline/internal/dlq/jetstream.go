// Package dlq writes terminally failed events to the dead-letter topic on
// NATS JetStream. Entries are durable and shared across pipeline instances;
// nothing in the core ever purges them.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/messaging"
	natsclient "github.com/crowlight-systems/crowlight-core/common/messaging/nats"
	"github.com/crowlight-systems/crowlight-core/common/models"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/metrics"
)

// Queue publishes DLQ entries to JetStream.
type Queue struct {
	js      *natsclient.JetStreamClient
	logger  *logging.Logger
	written uint64
}

// NewQueue ensures the DLQ stream exists and returns a publisher.
func NewQueue(ctx context.Context, js *natsclient.JetStreamClient, logger *logging.Logger) (*Queue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	if _, err := js.CreateOrUpdateStream(ctx, natsclient.EventsDLQStream); err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger.Info("dead-letter stream ready",
		logging.Subject(messaging.SubjectEventsDLQPrefix+".>"))

	return &Queue{js: js, logger: logger}, nil
}

// Write records one failed event. The subject carries the error category:
// events.dlq.storage_error.
func (q *Queue) Write(ctx context.Context, entry *models.DLQEntry) error {
	if entry.FirstSeen.IsZero() {
		entry.FirstSeen = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	subject := messaging.DLQSubject(entry.ErrorCategory)
	if _, err := q.js.PublishSync(ctx, subject, data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	metrics.DLQSent.Inc()
	q.logger.Warn("event dead-lettered",
		logging.Subject(subject),
		logging.TenantID(entry.TenantID))
	return nil
}

// Written returns the number of entries published by this instance.
func (q *Queue) Written() uint64 {
	return atomic.LoadUint64(&q.written)
}
