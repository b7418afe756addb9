package recon

import "strings"

// classificationRules are evaluated in order; the first match wins. The
// explicit category tag is checked before any of these patterns. Phrases are
// substring matches; codes must appear as a whole token so that e.g. "DIT"
// never fires inside "credit".
var classificationRules = []struct {
	category Category
	phrases  []string
	codes    []string
}{
	{CategoryDepositsInTransit, []string{"deposit in transit", "dep in transit"}, []string{"dit"}},
	{CategoryOutstandingChecks, []string{"outstanding check", "outstanding cheque", "unpresented check", "unpresented cheque"}, []string{"oc"}},
	{CategoryBankCharges, []string{"bank charge", "service charge", "bank fee", "commission"}, nil},
	{CategoryInterestEarned, []string{"interest"}, nil},
	{CategoryReturnedChecks, []string{"returned check", "returned cheque", "bounced"}, []string{"nsf"}},
}

// Classify maps a statement line to exactly one bucket. An explicit tag that
// names a known category always wins over anything the descriptor text
// suggests; unknown tags fall back to text inference. Lines that match
// nothing land in the ERRORS bucket rather than being dropped.
func Classify(line StatementLine) Category {
	if line.CategoryTag != "" {
		if category, ok := ParseCategory(line.CategoryTag); ok {
			return category
		}
	}
	text := strings.ToLower(line.Description + " " + line.Reference)
	tokens := tokenize(text)
	for _, rule := range classificationRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(text, phrase) {
				return rule.category
			}
		}
		for _, code := range rule.codes {
			if _, ok := tokens[code]; ok {
				return rule.category
			}
		}
	}
	return CategoryErrors
}

func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}
