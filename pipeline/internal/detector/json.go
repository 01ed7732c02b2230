package detector

import (
	"encoding/json"
	"strconv"
	"strings"
)

const maxFlattenDepth = 8

// parseJSONObject decodes payload when it is a JSON object. Numbers are kept
// as json.Number so integer codes survive stringification.
func parseJSONObject(payload string) (map[string]interface{}, bool) {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	return obj, true
}

// flatten converts a decoded JSON object into dotted string keys. Arrays are
// re-serialized verbatim; nesting beyond maxFlattenDepth is dropped.
func flatten(obj map[string]interface{}, prefix string, depth int, out map[string]string) {
	if depth > maxFlattenDepth {
		return
	}
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(val, key, depth+1, out)
		case nil:
			// omit nulls
		case string:
			out[key] = val
		case json.Number:
			out[key] = val.String()
		case bool:
			out[key] = strconv.FormatBool(val)
		default:
			if data, err := json.Marshal(val); err == nil {
				out[key] = string(data)
			}
		}
	}
}

// ECSJSONDetector recognizes Elastic Common Schema JSON documents by their
// @timestamp plus ecs/event markers.
type ECSJSONDetector struct{}

func (d *ECSJSONDetector) Name() string { return "ecs_json" }

func (d *ECSJSONDetector) SourceTypes() []string {
	return []string{"elastic_agent", "filebeat", "winlogbeat"}
}

func (d *ECSJSONDetector) Expected() []string {
	return []string{
		FieldTimestamp, FieldSourceIP, FieldDestIP, FieldUserName,
		FieldHostName, FieldCategory, FieldOutcome, FieldAction, FieldMessage,
	}
}

func (d *ECSJSONDetector) Detect(payload string) (map[string]string, bool) {
	obj, ok := parseJSONObject(payload)
	if !ok {
		return nil, false
	}
	if _, hasTS := obj["@timestamp"]; !hasTS {
		return nil, false
	}
	_, hasECS := obj["ecs"]
	_, hasEvent := obj["event"].(map[string]interface{})
	if !hasECS && !hasEvent {
		return nil, false
	}

	flat := make(map[string]string)
	flatten(obj, "", 0, flat)

	fields := make(map[string]string, len(flat))
	for k, v := range flat {
		if k == "@timestamp" {
			fields[FieldTimestamp] = v
			continue
		}
		fields[k] = v
	}
	return fields, true
}

// CIMJSONDetector recognizes Splunk Common Information Model JSON, marked by
// _time together with src/dest/sourcetype keys.
type CIMJSONDetector struct{}

func (d *CIMJSONDetector) Name() string { return "cim_json" }

func (d *CIMJSONDetector) SourceTypes() []string {
	return []string{"splunk", "splunk_hec"}
}

func (d *CIMJSONDetector) Expected() []string {
	return []string{
		FieldTimestamp, FieldSourceIP, FieldDestIP, FieldUserName,
		FieldAction, FieldOutcome,
	}
}

func (d *CIMJSONDetector) Detect(payload string) (map[string]string, bool) {
	obj, ok := parseJSONObject(payload)
	if !ok {
		return nil, false
	}
	if _, hasTime := obj["_time"]; !hasTime {
		return nil, false
	}
	_, hasSrc := obj["src"]
	_, hasDest := obj["dest"]
	_, hasSourcetype := obj["sourcetype"]
	if !hasSrc && !hasDest && !hasSourcetype {
		return nil, false
	}

	flat := make(map[string]string)
	flatten(obj, "", 0, flat)

	fields := make(map[string]string, len(flat))
	for k, v := range flat {
		if k == "_time" {
			fields[FieldTimestamp] = v
			continue
		}
		fields[k] = v
	}
	return fields, true
}

// WindowsEventDetector recognizes Windows event log records rendered as
// JSON (EventID plus Channel/Computer markers).
type WindowsEventDetector struct{}

func (d *WindowsEventDetector) Name() string { return "windows_event" }

func (d *WindowsEventDetector) SourceTypes() []string {
	return []string{"windows", "wineventlog"}
}

func (d *WindowsEventDetector) Expected() []string {
	return []string{
		FieldTimestamp, FieldEventCode, FieldHostName, FieldUserName,
		FieldSourceIP,
	}
}

func (d *WindowsEventDetector) Detect(payload string) (map[string]string, bool) {
	obj, ok := parseJSONObject(payload)
	if !ok {
		return nil, false
	}
	if _, hasID := obj["EventID"]; !hasID {
		return nil, false
	}
	_, hasChannel := obj["Channel"]
	_, hasComputer := obj["Computer"]
	if !hasChannel && !hasComputer {
		return nil, false
	}

	fields := make(map[string]string)
	flatten(obj, "", 0, fields)
	return fields, true
}

// GenericJSONDetector accepts any JSON object. It sits below the structured
// JSON dialects so marker-carrying payloads never fall through to it.
type GenericJSONDetector struct{}

func (d *GenericJSONDetector) Name() string { return "json" }

func (d *GenericJSONDetector) SourceTypes() []string { return nil }

func (d *GenericJSONDetector) Expected() []string {
	return []string{FieldTimestamp, FieldSourceIP, FieldMessage}
}

func (d *GenericJSONDetector) Detect(payload string) (map[string]string, bool) {
	obj, ok := parseJSONObject(payload)
	if !ok {
		return nil, false
	}
	fields := make(map[string]string)
	flatten(obj, "", 0, fields)
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}
