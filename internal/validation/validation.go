// Package validation cross-checks user-entered details against the
// fields extracted from their identity document.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// NameSimilarityThreshold is the minimum match ratio for the entered
// name against the document name.
const NameSimilarityThreshold = 0.75

var spaceRun = regexp.MustCompile(`\s+`)

// Check compares user details to extracted document data. It returns
// whether the details hold up and the reasons they do not.
func Check(userDetails, extracted map[string]any, docType string) (bool, []string) {
	var reasons []string

	if reason := checkName(str(userDetails["full_name"]), str(extracted["name"])); reason != "" {
		reasons = append(reasons, reason)
	}
	if reason := checkDOB(str(userDetails["date_of_birth"]), str(extracted["dob"])); reason != "" {
		reasons = append(reasons, reason)
	}
	if docGender := str(extracted["gender"]); docGender != "" {
		if reason := checkGender(str(userDetails["gender"]), docGender); reason != "" {
			reasons = append(reasons, reason)
		}
	}
	if userAddr, docAddr := str(userDetails["address"]), str(extracted["address"]); userAddr != "" && docAddr != "" {
		if reason := checkAddress(userAddr, docAddr); reason != "" {
			reasons = append(reasons, reason)
		}
	}
	return len(reasons) == 0, reasons
}

func checkName(userName, extractedName string) string {
	if userName == "" || extractedName == "" {
		return "name not found in document or not provided"
	}
	a := normalizeName(userName)
	b := normalizeName(extractedName)
	sim := Similarity(a, b)
	if sim >= NameSimilarityThreshold {
		return ""
	}
	return fmt.Sprintf("name mismatch: entered %q but document shows %q (similarity %.0f%%)", userName, extractedName, sim*100)
}

func normalizeName(s string) string {
	return spaceRun.ReplaceAllString(strings.ToUpper(strings.TrimSpace(s)), " ")
}

func checkDOB(userDOB, extractedDOB string) string {
	if userDOB == "" || extractedDOB == "" {
		return "date of birth not found in document or not provided"
	}
	userDate, err := time.Parse("2006-01-02", userDOB)
	if err != nil {
		return fmt.Sprintf("invalid date of birth format: %q", userDOB)
	}
	docDate, ok := parseDate(extractedDOB)
	if !ok {
		return fmt.Sprintf("could not read date of birth from document: %q", extractedDOB)
	}
	if !userDate.Equal(docDate) {
		return fmt.Sprintf("date of birth mismatch: entered %q but document shows %q", userDOB, extractedDOB)
	}
	return ""
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2/1/2006",
	"02/01/06",
	"01/02/2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func checkGender(userGender, docGender string) string {
	if userGender == "" {
		return "gender not provided"
	}
	if !strings.EqualFold(strings.TrimSpace(userGender), strings.TrimSpace(docGender)) {
		return fmt.Sprintf("gender mismatch: entered %q but document shows %q", userGender, docGender)
	}
	return ""
}

func checkAddress(userAddr, docAddr string) string {
	sim := Similarity(normalizeName(userAddr), normalizeName(docAddr))
	// Addresses are noisy; a looser bar than names.
	if sim >= 0.6 {
		return ""
	}
	return fmt.Sprintf("address mismatch: entered %q but document shows %q", userAddr, docAddr)
}

// Similarity is the classic sequence-match ratio: twice the total
// length of the longest matching blocks over the combined length.
// 1 means identical, 0 means nothing in common.
func Similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	m := matchingLen(a, b)
	return 2 * float64(m) / float64(len(a)+len(b))
}

// matchingLen finds the longest common substring, then recurses into
// the unmatched regions on either side of it.
func matchingLen(a, b string) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size + matchingLen(a[:ai], b[:bi]) + matchingLen(a[ai+size:], b[bi+size:])
}

func longestMatch(a, b string) (ai, bi, size int) {
	// lengths[j] holds the match length ending at a[i-1], b[j-1].
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
