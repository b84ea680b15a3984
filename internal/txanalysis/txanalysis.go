// Package txanalysis screens transactional documents (bank statements,
// utility bills) for signs of fabrication or laundering before they
// enter the verification pipeline. The checks are plain-text
// heuristics over the extracted document body; each hit adds a fixed
// amount to a 0-100 risk score and the document is suspicious at 40
// or above.
package txanalysis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SuspiciousAt is the score at which a document is flagged.
const SuspiciousAt = 40

const (
	riskNoTransactions = 50
	riskRapid          = 30
	riskLargeAmounts   = 25
	riskRoundNumbers   = 15
	riskCashHeavy      = 20
	riskNegativeBal    = 40
	riskDuplicates     = 35

	rapidPerDayThreshold = 10
	largeAmountThreshold = 100000
	cashHeavyThreshold   = 5
	maxScore             = 100
)

// Analysis is the screening outcome for one document.
type Analysis struct {
	Suspicious       bool     `json:"is_suspicious"`
	RiskScore        int      `json:"risk_score"`
	Indicators       []string `json:"suspicious_indicators"`
	TransactionCount int      `json:"transaction_count"`
}

type transaction struct {
	date   string
	amount float64
	line   string
}

var (
	dateRe     = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`)
	amountRe   = regexp.MustCompile(`[+-]?\d{1,3}(?:,\d{3})*(?:\.\d{2})?`)
	roundRe    = regexp.MustCompile(`\b\d{4,6}\.00\b`)
	billDueRe  = regexp.MustCompile(`(?i)(?:amount|total|due|payable)[:\s]+(\d{1,3}(?:,\d{3})*(?:\.\d{2})?)`)
	negativeRe = regexp.MustCompile(`(?i)overdraft|negative|deficit|balance[:\s]+-\s*\d`)
)

// Analyze screens one document's text. docType steers extraction: bank
// statements are read line by line for dated entries, utility bills
// for an amount due.
func Analyze(text, docType string) Analysis {
	a := Analysis{}
	txns := extract(text, docType)
	a.TransactionCount = len(txns)

	if len(txns) == 0 {
		// A transactional document with nothing in it reads as fake.
		a.Suspicious = true
		a.RiskScore = riskNoTransactions
		a.Indicators = append(a.Indicators, "no transactions found in document")
		return a
	}

	score := 0
	if n := maxPerDay(txns); n > rapidPerDayThreshold {
		score += riskRapid
		a.Indicators = append(a.Indicators, fmt.Sprintf("unusually high number of transactions in one day: %d", n))
	}
	if n := countLarge(txns); n > 0 {
		score += riskLargeAmounts
		a.Indicators = append(a.Indicators, fmt.Sprintf("large transactions detected: %d over %d", n, largeAmountThreshold))
	}
	if n := len(roundRe.FindAllString(text, -1)); n > 0 {
		score += riskRoundNumbers
		a.Indicators = append(a.Indicators, fmt.Sprintf("round number transactions: %d found", n))
	}
	if n := countCashWithdrawals(txns); n > cashHeavyThreshold {
		score += riskCashHeavy
		a.Indicators = append(a.Indicators, fmt.Sprintf("frequent cash withdrawals: %d", n))
	}
	if negativeRe.MatchString(text) {
		score += riskNegativeBal
		a.Indicators = append(a.Indicators, "negative balance detected")
	}
	if n := countDuplicates(txns); n > 0 {
		score += riskDuplicates
		a.Indicators = append(a.Indicators, fmt.Sprintf("duplicate transactions detected: %d pairs", n))
	}
	if score > maxScore {
		score = maxScore
	}
	a.RiskScore = score
	a.Suspicious = score >= SuspiciousAt
	return a
}

func extract(text, docType string) []transaction {
	upper := strings.ToUpper(docType)
	switch {
	case strings.Contains(upper, "BANK") || strings.Contains(upper, "STATEMENT"):
		return extractStatementLines(text)
	case strings.Contains(upper, "UTILITY") || strings.Contains(upper, "BILL"):
		var out []transaction
		for _, m := range billDueRe.FindAllStringSubmatch(text, -1) {
			if amt, ok := parseAmount(m[1]); ok {
				out = append(out, transaction{amount: amt})
			}
		}
		return out
	}
	return nil
}

func extractStatementLines(text string) []transaction {
	var out []transaction
	for _, line := range strings.Split(text, "\n") {
		date := dateRe.FindString(line)
		if date == "" {
			continue
		}
		// Take the largest amount on the line; statements list both the
		// movement and the running balance.
		var max float64
		found := false
		for _, raw := range amountRe.FindAllString(line, -1) {
			if amt, ok := parseAmount(raw); ok && amt > max {
				max = amt
				found = true
			}
		}
		if found {
			out = append(out, transaction{date: date, amount: max, line: line})
		}
	}
	return out
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.TrimLeft(strings.ReplaceAll(raw, ",", ""), "+-")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	if v < 0 {
		v = -v
	}
	return v, true
}

func maxPerDay(txns []transaction) int {
	perDay := map[string]int{}
	max := 0
	for _, t := range txns {
		if t.date == "" {
			continue
		}
		perDay[t.date]++
		if perDay[t.date] > max {
			max = perDay[t.date]
		}
	}
	return max
}

func countLarge(txns []transaction) int {
	n := 0
	for _, t := range txns {
		if t.amount > largeAmountThreshold {
			n++
		}
	}
	return n
}

var cashKeywords = []string{"ATM", "WITHDRAWAL", "CASH", "WITHDRAW"}

func countCashWithdrawals(txns []transaction) int {
	n := 0
	for _, t := range txns {
		line := strings.ToUpper(t.line)
		for _, kw := range cashKeywords {
			if strings.Contains(line, kw) {
				n++
				break
			}
		}
	}
	return n
}

func countDuplicates(txns []transaction) int {
	type key struct {
		amount float64
		date   string
	}
	seen := map[key]bool{}
	pairs := 0
	for _, t := range txns {
		k := key{t.amount, t.date}
		if seen[k] {
			pairs++
		}
		seen[k] = true
	}
	return pairs
}
