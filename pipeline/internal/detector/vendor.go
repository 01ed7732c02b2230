package detector

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// VendorPattern is one entry in the vendor detector configuration file.
type VendorPattern struct {
	// Name is recorded as parser_used (e.g. "fortigate").
	Name string `yaml:"name"`

	// SourceTypes tags the detector for source-type hinting.
	SourceTypes []string `yaml:"source_types"`

	// Pattern is an anchored regular expression with named capture groups;
	// each group name becomes an extracted field.
	Pattern string `yaml:"pattern"`

	// Expected lists the canonical fields this pattern yields once aliases
	// are applied; used for confidence scoring.
	Expected []string `yaml:"expected"`
}

type vendorFile struct {
	Patterns []VendorPattern `yaml:"patterns"`
}

// VendorRegexDetector matches one vendor's line format via a compiled
// regular expression.
type VendorRegexDetector struct {
	name        string
	sourceTypes []string
	expected    []string
	re          *regexp.Regexp
}

func (d *VendorRegexDetector) Name() string          { return d.name }
func (d *VendorRegexDetector) SourceTypes() []string { return d.sourceTypes }
func (d *VendorRegexDetector) Expected() []string    { return d.expected }

func (d *VendorRegexDetector) Detect(payload string) (map[string]string, bool) {
	m := d.re.FindStringSubmatch(payload)
	if m == nil {
		return nil, false
	}
	fields := make(map[string]string)
	for i, name := range d.re.SubexpNames() {
		if i == 0 || name == "" || i >= len(m) {
			continue
		}
		if m[i] != "" {
			fields[name] = m[i]
		}
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

// NewVendorRegexDetector compiles a single vendor pattern.
func NewVendorRegexDetector(p VendorPattern) (*VendorRegexDetector, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("vendor pattern name is required")
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return nil, fmt.Errorf("vendor pattern %s: %w", p.Name, err)
	}
	return &VendorRegexDetector{
		name:        p.Name,
		sourceTypes: p.SourceTypes,
		expected:    p.Expected,
		re:          re,
	}, nil
}

// LoadVendorDetectors reads a YAML pattern file and compiles its entries in
// file order. A missing path yields an empty set, not an error.
func LoadVendorDetectors(path string) ([]Detector, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vendor patterns: %w", err)
	}

	var file vendorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse vendor patterns: %w", err)
	}

	detectors := make([]Detector, 0, len(file.Patterns))
	for _, p := range file.Patterns {
		d, err := NewVendorRegexDetector(p)
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, d)
	}
	return detectors, nil
}
