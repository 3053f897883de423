package pricing

import (
	"regexp"
	"strings"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
)

// feePattern anchors a dollar amount to a fee keyword. Fees stack, so this
// pass never deduplicates: two delivery fees in one transcript are two fees.
type feePattern struct {
	name    string
	pattern *regexp.Regexp
}

var feePatterns = []feePattern{
	{"Delivery fee", regexp.MustCompile(`(?i)delivery[^$\n]{0,30}\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)},
	{"Service fee", regexp.MustCompile(`(?i)service\s+(?:fee|charge)[^$\n]{0,30}\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)},
	{"Tax", regexp.MustCompile(`(?i)tax[^$\n]{0,30}\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)},
}

// ExtractFees scans business-attributed transcript lines for keyword-anchored
// fee amounts.
func ExtractFees(entries []entity.TranscriptEntry) []entity.Fee {
	var fees []entity.Fee

	for _, entry := range entries {
		if strings.EqualFold(entry.Speaker, entity.SpeakerAssistant) {
			continue
		}
		for _, fp := range feePatterns {
			for _, match := range fp.pattern.FindAllStringSubmatch(entry.Message, -1) {
				amount, ok := parseAmount(match[1])
				if !ok {
					continue
				}
				fees = append(fees, entity.Fee{Name: fp.name, Amount: amount})
			}
		}
	}

	return fees
}

// CalculateTotal sums a base price with every fee amount.
func CalculateTotal(base float64, fees []entity.Fee) float64 {
	total := base
	for _, fee := range fees {
		total += fee.Amount
	}
	return total
}
