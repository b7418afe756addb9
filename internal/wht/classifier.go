package wht

import (
	"regexp"
	"strings"
)

// sectionRules are evaluated in order; the first match wins. The explicit
// section tag is checked before any of these patterns. The 153 subsections
// come first so a "153(1)(a)" descriptor never falls through to a bare
// numeric match.
var sectionRules = []struct {
	section Section
	re      *regexp.Regexp
}{
	{Section153_1A, regexp.MustCompile(`153[\s\-]*\(?\s*1\s*\)?[\s\-]*\(?\s*a\b`)},
	{Section153_1B, regexp.MustCompile(`153[\s\-]*\(?\s*1\s*\)?[\s\-]*\(?\s*b\b`)},
	{Section153_1C, regexp.MustCompile(`153[\s\-]*\(?\s*1\s*\)?[\s\-]*\(?\s*c\b`)},
	{Section233, regexp.MustCompile(`\b233\b`)},
	{Section234, regexp.MustCompile(`\b234\b`)},
	{Section235, regexp.MustCompile(`\b235\b`)},
}

// Classify maps a tax record to exactly one section. An explicit tag that
// names a known section always wins over anything the descriptor or
// reference text suggests; unknown tags fall back to text inference. Payroll
// records and "salary" descriptors land in SALARY; everything else falls
// into the OTHER catch-all rather than being dropped.
func Classify(record TaxRecord) Section {
	if record.SectionTag != "" {
		if section, ok := ParseSection(record.SectionTag); ok {
			return section
		}
	}
	text := strings.ToLower(record.Description + " " + record.Reference)
	for _, rule := range sectionRules {
		if rule.re.MatchString(text) {
			return rule.section
		}
	}
	if record.Origin == OriginPayrollRun || strings.Contains(text, "salary") || strings.Contains(text, "payroll") {
		return SectionSalary
	}
	return SectionOther
}
