package detector

import "github.com/crowlight-systems/crowlight-core/common/models"

// Quantize buckets the fraction of expected canonical fields actually
// extracted into a confidence tier. Detector priority order breaks ties
// upstream; two detectors never score the same payload.
func Quantize(extracted, expected int) models.Confidence {
	if expected <= 0 {
		return models.ConfidenceVeryLow
	}
	ratio := float64(extracted) / float64(expected)
	switch {
	case ratio >= 0.9:
		return models.ConfidenceVeryHigh
	case ratio >= 0.7:
		return models.ConfidenceHigh
	case ratio >= 0.5:
		return models.ConfidenceMedium
	case ratio >= 0.25:
		return models.ConfidenceLow
	default:
		return models.ConfidenceVeryLow
	}
}
