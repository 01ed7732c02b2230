package detector

import (
	"regexp"
	"strings"
)

// cefExtKey matches CEF/LEEF extension keys. Extension values may contain
// spaces, so pairs are split on the next "key=" boundary rather than on
// whitespace.
var cefExtKey = regexp.MustCompile(`(^|\s)([A-Za-z0-9_]+)=`)

// parseExtensions splits a CEF-style extension string into key/value pairs.
func parseExtensions(ext string) map[string]string {
	out := make(map[string]string)
	locs := cefExtKey.FindAllStringSubmatchIndex(ext, -1)
	for i, loc := range locs {
		keyStart, keyEnd := loc[4], loc[5]
		valStart := loc[1]
		valEnd := len(ext)
		if i+1 < len(locs) {
			valEnd = locs[i+1][0]
		}
		key := ext[keyStart:keyEnd]
		val := strings.TrimSpace(ext[valStart:valEnd])
		out[key] = val
	}
	return out
}

// CEFDetector parses ArcSight Common Event Format messages. The payload may
// carry a syslog header ahead of the CEF: marker.
type CEFDetector struct{}

func (d *CEFDetector) Name() string { return "cef" }

func (d *CEFDetector) SourceTypes() []string {
	return []string{"arcsight", "cef"}
}

func (d *CEFDetector) Expected() []string {
	return []string{
		FieldSourceIP, FieldDestIP, FieldSourcePort, FieldDestPort,
		FieldUserName, FieldAction, FieldMessage,
	}
}

func (d *CEFDetector) Detect(payload string) (map[string]string, bool) {
	idx := strings.Index(payload, "CEF:")
	if idx < 0 {
		return nil, false
	}
	// Only a syslog-style prefix may precede the marker.
	if idx > 64 {
		return nil, false
	}

	// CEF:Version|Vendor|Product|Version|EventClassID|Name|Severity|Extension
	parts := strings.SplitN(payload[idx:], "|", 8)
	if len(parts) < 8 {
		return nil, false
	}

	fields := map[string]string{
		"cef_version":    strings.TrimPrefix(parts[0], "CEF:"),
		"device_vendor":  parts[1],
		"device_product": parts[2],
		"device_version": parts[3],
		"event_class_id": parts[4],
		"name":           parts[5],
		"severity":       parts[6],
	}
	for k, v := range parseExtensions(parts[7]) {
		fields[k] = v
	}
	return fields, true
}

// LEEFDetector parses IBM QRadar Log Event Extended Format messages.
type LEEFDetector struct{}

func (d *LEEFDetector) Name() string { return "leef" }

func (d *LEEFDetector) SourceTypes() []string {
	return []string{"qradar", "leef"}
}

func (d *LEEFDetector) Expected() []string {
	return []string{
		FieldSourceIP, FieldDestIP, FieldSourcePort, FieldDestPort,
		FieldUserName, FieldAction,
	}
}

func (d *LEEFDetector) Detect(payload string) (map[string]string, bool) {
	idx := strings.Index(payload, "LEEF:")
	if idx < 0 || idx > 64 {
		return nil, false
	}

	// LEEF:Version|Vendor|Product|Version|EventID|attributes
	parts := strings.SplitN(payload[idx:], "|", 6)
	if len(parts) < 6 {
		return nil, false
	}

	fields := map[string]string{
		"leef_version":   strings.TrimPrefix(parts[0], "LEEF:"),
		"device_vendor":  parts[1],
		"device_product": parts[2],
		"device_version": parts[3],
		"event_id":       parts[4],
	}

	// Attributes are tab-delimited key=value pairs; some senders use the
	// caret delimiter instead.
	attrs := parts[5]
	sep := "\t"
	if !strings.Contains(attrs, "\t") && strings.Contains(attrs, "^") {
		sep = "^"
	}
	for _, pair := range strings.Split(attrs, sep) {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			fields[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return fields, true
}
