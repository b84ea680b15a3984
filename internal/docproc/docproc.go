// Package docproc stores uploaded identity documents and extracts
// structured fields from them. Extraction runs plain-text pattern
// matching over the upload, which stands in for a real OCR engine;
// the field names and shapes match what one would emit.
package docproc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Save writes an upload under uploadDir/<kycID>/ and returns the
// storage-relative path plus the content hash.
func Save(uploadDir, kycID, filename string, content []byte) (string, string, error) {
	dir := filepath.Join(uploadDir, kycID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("mkdir upload dir: %w", err)
	}
	// Uploaded filenames are untrusted; keep only the base name.
	filename = filepath.Base(filename)
	if err := os.WriteFile(filepath.Join(dir, filename), content, 0o644); err != nil {
		return "", "", fmt.Errorf("write upload: %w", err)
	}
	sum := sha256.Sum256(content)
	return filepath.ToSlash(filepath.Join("uploads", kycID, filename)), hex.EncodeToString(sum[:]), nil
}

// Labels match case-insensitively but captures stay case-sensitive, and
// runs of whitespace inside a value never cross a line break.
var (
	namePattern    = regexp.MustCompile(`(?i:(?:full[ \t]+)?name)[: \t]+([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)+)`)
	dobPattern     = regexp.MustCompile(`(?i)(?:date of birth|dob|born)[: \t]+(\d{4}-\d{2}-\d{2}|\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4})`)
	docNumPattern  = regexp.MustCompile(`(?i:(?:passport|document|id)?[ \t]*(?:no|number))[.: \t]+([A-Z0-9]{6,})`)
	addressPattern = regexp.MustCompile(`(?i)(?:address|residence)[: \t]+(.+?)(?:\n|$)`)
	expiryPattern  = regexp.MustCompile(`(?i)(?:expiry|expires|valid until)[: \t]+(\d{4}-\d{2}-\d{2}|\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4})`)
	genderPattern  = regexp.MustCompile(`(?i)(?:gender|sex)[: \t]+(male|female|other|[MF])\b`)
)

// Extract pulls structured identity fields out of a document.
// Fields that cannot be found are simply absent from the result.
func Extract(content []byte) map[string]any {
	text := string(content)
	out := map[string]any{}
	if m := namePattern.FindStringSubmatch(text); m != nil {
		out["name"] = strings.TrimSpace(m[1])
	}
	if m := dobPattern.FindStringSubmatch(text); m != nil {
		out["dob"] = strings.TrimSpace(m[1])
	}
	if m := docNumPattern.FindStringSubmatch(text); m != nil {
		out["document_number"] = strings.TrimSpace(m[1])
	}
	if m := addressPattern.FindStringSubmatch(text); m != nil {
		addr := strings.TrimSpace(m[1])
		if len(addr) > 100 {
			addr = addr[:100]
		}
		out["address"] = addr
	}
	if m := expiryPattern.FindStringSubmatch(text); m != nil {
		out["expiry"] = strings.TrimSpace(m[1])
	}
	if m := genderPattern.FindStringSubmatch(text); m != nil {
		out["gender"] = normalizeGender(m[1])
	}
	if nat := extractNationality(strings.ToLower(text)); nat != "" {
		out["nationality"] = nat
	}
	return out
}

func normalizeGender(raw string) string {
	switch strings.ToUpper(raw) {
	case "M", "MALE":
		return "male"
	case "F", "FEMALE":
		return "female"
	default:
		return strings.ToLower(raw)
	}
}

func extractNationality(textLower string) string {
	switch {
	case strings.Contains(textLower, "united states"), strings.Contains(textLower, "u.s.a"), strings.Contains(textLower, " usa"):
		return "United States"
	case strings.Contains(textLower, "united kingdom"):
		return "United Kingdom"
	case strings.Contains(textLower, "india"):
		return "India"
	case strings.Contains(textLower, "canada"):
		return "Canada"
	}
	return ""
}

// Quality estimates extraction confidence from how many fields were
// recovered. A real OCR stack would report per-token confidences.
func Quality(extracted map[string]any) float64 {
	fields := []string{"name", "dob", "document_number", "address", "expiry", "nationality"}
	found := 0
	for _, f := range fields {
		if _, ok := extracted[f]; ok {
			found++
		}
	}
	// Floor well above zero: even an empty read is an upload we accepted.
	return 0.5 + 0.5*float64(found)/float64(len(fields))
}
