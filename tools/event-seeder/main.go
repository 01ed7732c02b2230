// Command event-seeder publishes synthetic raw event envelopes to the bus
// for load and pipeline testing. Payloads rotate through the formats the
// pipeline detects: ECS JSON, CEF, syslog, key-value pairs, and plain
// garbage for the raw-fallback path.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/crowlight-systems/crowlight-core/common/messaging"
	natsclient "github.com/crowlight-systems/crowlight-core/common/messaging/nats"
)

var (
	natsURL    = flag.String("nats-url", "nats://localhost:4222", "NATS server URL")
	count      = flag.Int("count", 1000, "Number of events to generate")
	interval   = flag.Duration("interval", 5*time.Millisecond, "Interval between events")
	tenants    = flag.Int("tenants", 3, "Number of synthetic tenants")
	timeSpread = flag.Duration("time-spread", 0, "Spread event timestamps over this period (0 for real-time)")
)

func main() {
	flag.Parse()

	gofakeit.Seed(time.Now().UnixNano())

	log.Printf("Starting event seeder:")
	log.Printf("  NATS URL: %s", *natsURL)
	log.Printf("  Event count: %d", *count)
	log.Printf("  Interval: %v", *interval)
	log.Printf("  Tenants: %d", *tenants)

	js, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:  *natsURL,
		Name: "crowlight-event-seeder",
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer js.Close()

	ctx := context.Background()
	if _, err := js.CreateOrUpdateStream(ctx, natsclient.RawEventsStream); err != nil {
		log.Fatalf("Failed to create raw events stream: %v", err)
	}

	successCount := 0
	failCount := 0

	for i := 0; i < *count; i++ {
		ts := time.Now()
		if *timeSpread > 0 {
			ts = ts.Add(-time.Duration(rand.Int63n(int64(*timeSpread))))
		}
		envelope := map[string]interface{}{
			"tenant_id": fmt.Sprintf("tenant-%d", gofakeit.Number(1, *tenants)),
			"source_ip": gofakeit.IPv4Address(),
			"timestamp": float64(ts.Unix()),
			"raw_event": generatePayload(i),
		}
		data, err := json.Marshal(envelope)
		if err != nil {
			log.Fatalf("Failed to marshal envelope: %v", err)
		}

		if _, err := js.PublishSync(ctx, messaging.SubjectEventsRaw, data); err != nil {
			log.Printf("Failed to publish event %d: %v", i, err)
			failCount++
		} else {
			successCount++
			if successCount%500 == 0 {
				log.Printf("Progress: %d/%d events published", successCount, *count)
			}
		}

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	log.Printf("\nSeeding complete:")
	log.Printf("  Success: %d events", successCount)
	log.Printf("  Failed: %d events", failCount)
}

// generatePayload rotates through detectable formats.
func generatePayload(i int) string {
	switch i % 5 {
	case 0:
		return ecsPayload()
	case 1:
		return cefPayload()
	case 2:
		return syslogPayload()
	case 3:
		return kvPayload()
	default:
		return gofakeit.Sentence(8)
	}
}

func ecsPayload() string {
	doc := map[string]interface{}{
		"@timestamp": time.Now().UTC().Format(time.RFC3339),
		"ecs":        map[string]interface{}{"version": "8.11"},
		"event": map[string]interface{}{
			"category": gofakeit.RandomString([]string{"authentication", "network", "process"}),
			"outcome":  gofakeit.RandomString([]string{"success", "failure"}),
			"action":   "user_login",
		},
		"source":      map[string]interface{}{"ip": gofakeit.IPv4Address(), "port": gofakeit.Number(1024, 65535)},
		"destination": map[string]interface{}{"ip": gofakeit.IPv4Address(), "port": 443},
		"user":        map[string]interface{}{"name": gofakeit.Username()},
		"host":        map[string]interface{}{"name": gofakeit.DomainName()},
		"message":     gofakeit.HackerPhrase(),
	}
	data, _ := json.Marshal(doc)
	return string(data)
}

func cefPayload() string {
	return fmt.Sprintf("CEF:0|%s|%s|1.0|%d|%s|%d|src=%s dst=%s suser=%s dpt=%d",
		gofakeit.Company(), gofakeit.AppName(), gofakeit.Number(100, 999),
		gofakeit.HackerVerb(), gofakeit.Number(1, 10),
		gofakeit.IPv4Address(), gofakeit.IPv4Address(), gofakeit.Username(),
		gofakeit.Number(1024, 65535))
}

func syslogPayload() string {
	return fmt.Sprintf("<%d>%s %s sshd[%d]: Failed password for %s from %s port %d ssh2",
		gofakeit.Number(0, 191), time.Now().Format("Jan  2 15:04:05"),
		gofakeit.DomainName(), gofakeit.Number(100, 9999),
		gofakeit.Username(), gofakeit.IPv4Address(), gofakeit.Number(1024, 65535))
}

func kvPayload() string {
	return fmt.Sprintf("action=%s src_ip=%s dst_ip=%s user=%s status=%s",
		gofakeit.RandomString([]string{"allow", "deny"}),
		gofakeit.IPv4Address(), gofakeit.IPv4Address(),
		gofakeit.Username(), gofakeit.RandomString([]string{"ok", "blocked"}))
}
