package wht

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyExplicitTagWins(t *testing.T) {
	record := TaxRecord{
		Origin:      OriginVendorPayment,
		Description: "withholding u/s 153(1)(a) goods supply",
		SectionTag:  "SECTION_234",
	}
	require.Equal(t, Section234, Classify(record))
}

func TestClassifyUnknownTagFallsBackToText(t *testing.T) {
	record := TaxRecord{
		Origin:      OriginVendorPayment,
		Description: "tax deducted u/s 235 electricity bill",
		SectionTag:  "SECTION_999",
	}
	require.Equal(t, Section235, Classify(record))
}

func TestClassifyTextInference(t *testing.T) {
	cases := []struct {
		name        string
		origin      Origin
		description string
		reference   string
		want        Section
	}{
		{"153_1a_parenthesized", OriginVendorPayment, "WHT u/s 153(1)(a) supply of goods", "", Section153_1A},
		{"153_1a_spaced", OriginVendorPayment, "deduction 153 (1) (a)", "", Section153_1A},
		{"153_1b_services", OriginVendorPayment, "services 153(1)(b)", "", Section153_1B},
		{"153_1c_contracts", OriginVendorPayment, "execution of contract 153-1-c", "", Section153_1C},
		{"233_brokerage", OriginVendorPayment, "brokerage commission sec 233", "", Section233},
		{"234_from_reference", OriginVendorPayment, "vehicle token tax", "S-234/2025", Section234},
		{"235_electricity", OriginVendorPayment, "electricity consumption 235", "", Section235},
		{"payroll_origin", OriginPayrollRun, "monthly deduction", "", SectionSalary},
		{"salary_text", OriginVendorPayment, "salary arrears withholding", "", SectionSalary},
		{"catch_all", OriginVendorPayment, "miscellaneous deduction", "", SectionOther},
		{"empty", OriginVendorPayment, "", "", SectionOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record := TaxRecord{Origin: tc.origin, Description: tc.description, Reference: tc.reference}
			require.Equal(t, tc.want, Classify(record))
		})
	}
}

func TestClassifySubsectionBeatsBareNumber(t *testing.T) {
	// A 153 subsection descriptor must not fall through to OTHER, and a bare
	// "1234" must not match the 234 rule.
	require.Equal(t, Section153_1B, Classify(TaxRecord{Origin: OriginVendorPayment, Description: "153(1)(b)"}))
	require.Equal(t, SectionOther, Classify(TaxRecord{Origin: OriginVendorPayment, Description: "invoice 1234"}))
}
