package detector

import (
	"regexp"
	"strconv"
	"strings"
)

// rfc3164 matches <pri>MMM dd hh:mm:ss hostname message.
var rfc3164 = regexp.MustCompile(`^<(\d{1,3})>(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.+)$`)

var syslogSeverities = []string{
	"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug",
}

// SyslogDetector parses RFC3164 syslog lines. It sits last in the priority
// order: the anchored priority tag keeps it from swallowing other formats.
type SyslogDetector struct{}

func (d *SyslogDetector) Name() string { return "syslog_rfc3164" }

func (d *SyslogDetector) SourceTypes() []string {
	return []string{"syslog"}
}

func (d *SyslogDetector) Expected() []string {
	return []string{FieldTimestamp, FieldHostName, FieldMessage}
}

func (d *SyslogDetector) Detect(payload string) (map[string]string, bool) {
	m := rfc3164.FindStringSubmatch(strings.TrimSpace(payload))
	if m == nil {
		return nil, false
	}

	pri, err := strconv.Atoi(m[1])
	if err != nil || pri > 191 {
		return nil, false
	}

	fields := map[string]string{
		"priority":  m[1],
		"facility":  strconv.Itoa(pri / 8),
		"timestamp": m[2],
		"hostname":  m[3],
		"message":   m[4],
	}
	if sev := pri % 8; sev < len(syslogSeverities) {
		fields["severity"] = syslogSeverities[sev]
	}
	return fields, true
}

// KeyValueDetector parses loose key=value text such as auditd or firewall
// logs. It requires at least two pairs so prose containing one equals sign
// does not match.
type KeyValueDetector struct{}

var kvPair = regexp.MustCompile(`([A-Za-z0-9_.\-]+)=("[^"]*"|\S+)`)

func (d *KeyValueDetector) Name() string { return "keyvalue" }

func (d *KeyValueDetector) SourceTypes() []string { return nil }

func (d *KeyValueDetector) Expected() []string {
	return []string{FieldTimestamp, FieldSourceIP, FieldAction}
}

func (d *KeyValueDetector) Detect(payload string) (map[string]string, bool) {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return nil, false
	}

	pairs := kvPair.FindAllStringSubmatch(trimmed, -1)
	if len(pairs) < 2 {
		return nil, false
	}

	fields := make(map[string]string, len(pairs))
	for _, p := range pairs {
		fields[p[1]] = strings.Trim(p[2], `"`)
	}
	return fields, true
}
