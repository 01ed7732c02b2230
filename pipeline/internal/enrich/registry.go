// Package enrich provides read-only lookup caches consulted during
// canonicalization: the log-source registry (producer IP to source type) and
// the threat-IOC set. Both are immutable snapshots swapped atomically on
// refresh; a failed refresh keeps the stale snapshot so ingestion never
// blocks on the control plane.
package enrich

import (
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/crowlight-systems/crowlight-core/common/models"
)

// SourceInfo is the registry entry for a producer address.
type SourceInfo struct {
	SourceType string
	ParserHint string
}

// sourceSnapshot separates exact-IP entries from subnet entries; exact hits
// win, subnets are scanned most-specific first.
type sourceSnapshot struct {
	exact   map[netip.Addr]SourceInfo
	subnets []subnetEntry
}

type subnetEntry struct {
	prefix netip.Prefix
	info   SourceInfo
}

// SourceRegistry resolves producer IPs to source types.
type SourceRegistry struct {
	current atomic.Pointer[sourceSnapshot]
}

// NewSourceRegistry returns an empty registry.
func NewSourceRegistry() *SourceRegistry {
	r := &SourceRegistry{}
	r.current.Store(buildSourceSnapshot(nil))
	return r
}

func buildSourceSnapshot(rows []models.LogSourceConfig) *sourceSnapshot {
	snap := &sourceSnapshot{exact: make(map[netip.Addr]SourceInfo)}
	for _, row := range rows {
		info := SourceInfo{SourceType: row.SourceType, ParserHint: row.ParserHint}
		if strings.Contains(row.Source, "/") {
			if prefix, err := netip.ParsePrefix(row.Source); err == nil {
				snap.subnets = append(snap.subnets, subnetEntry{prefix: prefix, info: info})
			}
			continue
		}
		if addr, err := netip.ParseAddr(row.Source); err == nil {
			snap.exact[addr] = info
		}
	}
	// Most specific prefix first.
	for i := 1; i < len(snap.subnets); i++ {
		for j := i; j > 0 && snap.subnets[j].prefix.Bits() > snap.subnets[j-1].prefix.Bits(); j-- {
			snap.subnets[j], snap.subnets[j-1] = snap.subnets[j-1], snap.subnets[j]
		}
	}
	return snap
}

// Lookup resolves an IP to its registered source info. Returns false for
// unknown or unparseable addresses.
func (r *SourceRegistry) Lookup(ip string) (SourceInfo, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return SourceInfo{}, false
	}
	snap := r.current.Load()
	if info, ok := snap.exact[addr]; ok {
		return info, true
	}
	for _, e := range snap.subnets {
		if e.prefix.Contains(addr) {
			return e.info, true
		}
	}
	return SourceInfo{}, false
}

// Swap atomically replaces the registry contents.
func (r *SourceRegistry) Swap(rows []models.LogSourceConfig) {
	r.current.Store(buildSourceSnapshot(rows))
}

// IOCSet is the threat-indicator membership set.
type IOCSet struct {
	current atomic.Pointer[map[string]struct{}]
}

// NewIOCSet returns an empty set.
func NewIOCSet() *IOCSet {
	s := &IOCSet{}
	empty := make(map[string]struct{})
	s.current.Store(&empty)
	return s
}

// Swap atomically replaces the indicator set.
func (s *IOCSet) Swap(rows []models.ThreatIOC) {
	set := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		set[strings.ToLower(strings.TrimSpace(row.IOCValue))] = struct{}{}
	}
	s.current.Store(&set)
}

// Contains reports whether the value is a known indicator.
func (s *IOCSet) Contains(value string) bool {
	if value == "" {
		return false
	}
	set := *s.current.Load()
	_, ok := set[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

// Size returns the number of indicators loaded.
func (s *IOCSet) Size() int {
	return len(*s.current.Load())
}
