// Package risk scores applications with a deterministic linear model.
// The feature weights mirror the generating process the original model
// was trained on, so scores land in the same distribution without
// hauling a model artifact around.
package risk

import (
	"math"
	"sort"
)

// Features are the model inputs, all on the scales noted. Confidence
// and quality style features reduce risk; age and history style
// features raise it.
type Features struct {
	FaceMatchConfidence       float64 // [0,1], higher is safer
	DocumentAgeYears          float64 // years since issue
	AddressVerificationScore  float64 // 0 failed, 0.5 partial, 1 verified
	TransactionHistoryRisk    float64 // [0,1]
	IDQualityScore            float64 // [0,1], higher is safer
	DocumentTypeRisk          float64 // per-document baseline, see DocTypeRisk
	ExtractionConfidence      float64 // [0,1], higher is safer
	NameMatchScore            float64 // [0,1], higher is safer
}

// Contribution explains one feature's push on the final score, signed.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"shap_value"`
	Input   float64 `json:"feature_value"`
}

var weights = [8]float64{-0.3, 0.2, 0.25, 0.35, -0.2, 0.15, -0.1, -0.15}

var featureNames = [8]string{
	"face_match_confidence",
	"document_age_years",
	"address_verification_score",
	"transaction_history_risk",
	"id_quality_score",
	"document_type_risk",
	"extraction_confidence",
	"name_match_score",
}

// Baseline document risk by type. Unknown types score worst.
func DocTypeRisk(docType string) float64 {
	switch docType {
	case "PASSPORT":
		return 0.1
	case "DRIVERS_LICENSE":
		return 0.3
	case "NATIONAL_ID":
		return 0.5
	default:
		return 0.5
	}
}

// Score returns a risk fraction in [0,1] and the per-feature
// contributions sorted by absolute impact, largest first.
func Score(f Features) (float64, []Contribution) {
	inputs := [8]float64{
		f.FaceMatchConfidence,
		f.DocumentAgeYears,
		f.AddressVerificationScore,
		f.TransactionHistoryRisk,
		f.IDQualityScore,
		f.DocumentTypeRisk,
		f.ExtractionConfidence,
		f.NameMatchScore,
	}
	var total float64
	contribs := make([]Contribution, len(inputs))
	for i, v := range inputs {
		c := weights[i] * v
		total += c
		contribs[i] = Contribution{Feature: featureNames[i], Value: c, Input: v}
	}
	score := clamp01(total)
	sort.SliceStable(contribs, func(i, j int) bool {
		return math.Abs(contribs[i].Value) > math.Abs(contribs[j].Value)
	})
	return score, contribs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
