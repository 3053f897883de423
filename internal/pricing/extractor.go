package pricing

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
)

// Pattern confidences, in priority order. Ranges carry the lowest
// confidence because the mean of two bounds is a weaker signal than a
// directly quoted amount.
const (
	confidenceSymbol  = 0.90
	confidenceSpelled = 0.85
	confidenceRange   = 0.80
)

// mergeThreshold is the currency-blind near-duplicate window: two prices in
// the same currency closer than this are treated as one quote heard twice.
const mergeThreshold = 1.00

// contextWindow is the number of characters taken on each side of a match
// when inferring item, price type and conditions.
const contextWindow = 50

const defaultCurrency = "USD"

var (
	rangePattern   = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s*(?:to|and|-|–)\s*\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	symbolPattern  = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	spelledPattern = regexp.MustCompile(`(?i)\b([0-9]+(?:\.[0-9]{1,2})?)\s*(?:dollars?|bucks)\b`)
)

// itemKeyword maps a context keyword to the item label it implies. Scanned
// in order; first match wins.
type itemKeyword struct {
	keyword string
	label   string
}

var itemKeywords = []itemKeyword{
	{"pizza", "Pizza"},
	{"large", "Large"},
	{"medium", "Medium"},
	{"small", "Small"},
	{"topping", "Topping"},
	{"oil change", "Oil Change"},
	{"brake", "Brake Service"},
	{"tire", "Tires"},
	{"alignment", "Alignment"},
	{"diagnostic", "Diagnostic"},
	{"inspection", "Inspection"},
	{"labor", "Labor"},
	{"parts", "Parts"},
	{"appointment", "Appointment"},
	{"consultation", "Consultation"},
	{"cleaning", "Cleaning"},
	{"delivery", "Delivery"},
	{"installation", "Installation"},
	{"repair", "Repair"},
	{"haircut", "Haircut"},
	{"service", "Service"},
}

const defaultItem = "Service"

// Extract scans a transcript and returns deduplicated structured price
// records, sorted by descending confidence. Only lines attributed to the
// business side of the call are scanned; the assistant's own speech is
// ignored so the AI does not extract prices it recited itself.
func Extract(entries []entity.TranscriptEntry) []entity.ExtractedPrice {
	var raw []entity.ExtractedPrice

	for _, entry := range entries {
		if strings.EqualFold(entry.Speaker, entity.SpeakerAssistant) {
			continue
		}
		raw = append(raw, scanMessage(entry.Message)...)
	}

	merged := Merge(raw)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})

	return merged
}

// scanMessage runs the three pattern passes over a single message. Range
// matches are found first and their spans reserved, so the narrower amount
// patterns do not also report each bound of a quoted range.
func scanMessage(message string) []entity.ExtractedPrice {
	var prices []entity.ExtractedPrice
	var reserved [][]int

	for _, loc := range rangePattern.FindAllStringSubmatchIndex(message, -1) {
		low, okLow := parseAmount(message[loc[2]:loc[3]])
		high, okHigh := parseAmount(message[loc[4]:loc[5]])
		if !okLow || !okHigh {
			continue
		}
		ctx := contextAround(message, loc[0], loc[1])
		price := entity.ExtractedPrice{
			Item:       inferItem(ctx),
			Price:      (low + high) / 2,
			Currency:   defaultCurrency,
			PriceType:  entity.PriceTypeRange,
			Conditions: appendUnique(inferConditions(ctx), fmt.Sprintf("Quoted as $%s to $%s", trimAmount(message[loc[2]:loc[3]]), trimAmount(message[loc[4]:loc[5]]))),
			Confidence: confidenceRange,
		}
		prices = append(prices, price)
		reserved = append(reserved, []int{loc[0], loc[1]})
	}

	for _, loc := range symbolPattern.FindAllStringSubmatchIndex(message, -1) {
		if overlapsAny(loc[0], loc[1], reserved) {
			continue
		}
		amount, ok := parseAmount(message[loc[2]:loc[3]])
		if !ok {
			continue
		}
		prices = append(prices, buildPrice(message, loc[0], loc[1], amount, confidenceSymbol))
	}

	for _, loc := range spelledPattern.FindAllStringSubmatchIndex(message, -1) {
		if overlapsAny(loc[0], loc[1], reserved) {
			continue
		}
		amount, ok := parseAmount(message[loc[2]:loc[3]])
		if !ok {
			continue
		}
		prices = append(prices, buildPrice(message, loc[0], loc[1], amount, confidenceSpelled))
	}

	return prices
}

func buildPrice(message string, start, end int, amount, confidence float64) entity.ExtractedPrice {
	ctx := contextAround(message, start, end)
	return entity.ExtractedPrice{
		Item:       inferItem(ctx),
		Price:      amount,
		Currency:   defaultCurrency,
		PriceType:  inferPriceType(ctx),
		Conditions: inferConditions(ctx),
		Confidence: confidence,
	}
}

// Merge collapses near-duplicate records: any pair with matching currency
// and an absolute price difference strictly below mergeThreshold becomes one
// record carrying the union of conditions and the maximum confidence. The
// pass repeats until a fixed point, so the result is idempotent under Merge.
func Merge(prices []entity.ExtractedPrice) []entity.ExtractedPrice {
	out := make([]entity.ExtractedPrice, len(prices))
	copy(out, prices)

	for {
		mergedAny := false

		for i := 0; i < len(out) && !mergedAny; i++ {
			for j := i + 1; j < len(out); j++ {
				if out[i].Currency != out[j].Currency {
					continue
				}
				diff := out[i].Price - out[j].Price
				if diff < 0 {
					diff = -diff
				}
				if diff >= mergeThreshold {
					continue
				}

				out[i] = mergePair(out[i], out[j])
				out = append(out[:j], out[j+1:]...)
				mergedAny = true
				break
			}
		}

		if !mergedAny {
			return out
		}
	}
}

// mergePair keeps the higher-confidence record's identity and unions the
// condition sets.
func mergePair(a, b entity.ExtractedPrice) entity.ExtractedPrice {
	keep, other := a, b
	if b.Confidence > a.Confidence {
		keep, other = b, a
	}

	merged := keep
	merged.Conditions = append([]string{}, keep.Conditions...)
	for _, cond := range other.Conditions {
		merged.Conditions = appendUnique(merged.Conditions, cond)
	}
	if other.Confidence > merged.Confidence {
		merged.Confidence = other.Confidence
	}
	return merged
}

func inferItem(ctx string) string {
	lower := strings.ToLower(ctx)
	for _, kw := range itemKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.label
		}
	}
	return defaultItem
}

var digitDashDigit = regexp.MustCompile(`[0-9]\s*-\s*\$?\s*[0-9]`)

func inferPriceType(ctx string) entity.PriceType {
	lower := strings.ToLower(ctx)

	switch {
	case strings.Contains(lower, "per hour"), strings.Contains(lower, "/hour"), strings.Contains(lower, "hourly"):
		return entity.PriceTypeHourly
	case strings.Contains(lower, "per "), strings.Contains(lower, "each"):
		return entity.PriceTypePerUnit
	case strings.Contains(lower, "starting at"), strings.Contains(lower, "starts at"):
		return entity.PriceTypeStartingAt
	case strings.Contains(lower, " to $"), strings.Contains(lower, "between"), digitDashDigit.MatchString(lower):
		return entity.PriceTypeRange
	default:
		return entity.PriceTypeFixed
	}
}

func inferConditions(ctx string) []string {
	lower := strings.ToLower(ctx)
	var conditions []string

	if strings.Contains(lower, "delivery") {
		conditions = append(conditions, "Includes delivery")
	}
	if strings.Contains(lower, "plus tax") || strings.Contains(lower, "+ tax") {
		conditions = append(conditions, "Plus tax")
	}
	if strings.Contains(lower, "additional") || strings.Contains(lower, "extra") {
		conditions = append(conditions, "Additional fees may apply")
	}
	if strings.Contains(lower, "today only") || strings.Contains(lower, "this week") {
		conditions = append(conditions, "Limited time offer")
	}

	return conditions
}

func contextAround(message string, start, end int) string {
	from := start - contextWindow
	if from < 0 {
		from = 0
	}
	to := end + contextWindow
	if to > len(message) {
		to = len(message)
	}
	return message[from:to]
}

func parseAmount(text string) (float64, bool) {
	amount, err := strconv.ParseFloat(trimAmount(text), 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}

func trimAmount(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(text), ",", "")
}

func overlapsAny(start, end int, spans [][]int) bool {
	for _, span := range spans {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}

func appendUnique(conditions []string, cond string) []string {
	for _, c := range conditions {
		if c == cond {
			return conditions
		}
	}
	return append(conditions, cond)
}
