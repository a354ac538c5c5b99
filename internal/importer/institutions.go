package importer

import "github.com/cleared-dev/auszug/internal/model"

// Parser format keys.
const (
	FormatSparkasse  = "sparkasse"
	FormatHVB        = "hvb"
	FormatVRMonthly  = "vr_monthly"
	FormatLandau     = "vr_landau"
	FormatGenoOnline = "geno_online"
	FormatMT940      = "mt940"
)

const germanDate = "DD.MM.YYYY"

// DefaultInstitutions returns the built-in institutions in content-probe
// order. More specific brand markers come first: "VR Bank Landau-Mengkofen"
// must win over the generic cooperative-bank markers.
func DefaultInstitutions() []model.Institution {
	return []model.Institution{
		{
			Name:             "vr_landau",
			DisplayName:      "VR Bank Landau-Mengkofen",
			Parser:           FormatLandau,
			Convention:       model.GermanConvention,
			DateFormat:       germanDate,
			BankCodes:        []string{"74362663"},
			Markers:          []string{"VR Bank Landau-Mengkofen", "VR Bank Landau"},
			FilenamePatterns: []string{"^VRLandau", "landau"},
		},
		{
			Name:             "geno_online",
			DisplayName:      "Genobank online",
			Parser:           FormatGenoOnline,
			Convention:       model.GermanConvention,
			DateFormat:       germanDate,
			Markers:          []string{"Genobank online", "IBAN Auftragskonto"},
			FilenamePatterns: []string{"^Umsaetze_", "umsatzliste"},
		},
		{
			Name:             "hvb",
			DisplayName:      "HypoVereinsbank",
			Parser:           FormatHVB,
			Convention:       model.GermanConvention,
			DateFormat:       germanDate,
			BankCodes:        []string{"70020270"},
			Markers:          []string{"HypoVereinsbank", "UniCredit Bank"},
			FilenamePatterns: []string{"^HVB", "hypovereinsbank"},
		},
		{
			Name:             "sparkasse",
			DisplayName:      "Sparkasse",
			Parser:           FormatSparkasse,
			Convention:       model.GermanConvention,
			DateFormat:       germanDate,
			BankCodes:        []string{"74350000"},
			Markers:          []string{"Sparkasse"},
			FilenamePatterns: []string{"^Konto_", "sparkasse"},
		},
		{
			Name:             "vr_monthly",
			DisplayName:      "VR/Genobank",
			Parser:           FormatVRMonthly,
			Convention:       model.GermanConvention,
			DateFormat:       "DD.MM.",
			BankCodes:        []string{"74369088"},
			Markers:          []string{"Raiffeisenbank", "Volksbank", "VR-Bank", "Genobank"},
			FilenamePatterns: []string{"^Kontoauszug_VR", "genobank"},
		},
		{
			Name:             "mt940",
			DisplayName:      "MT940",
			Parser:           FormatMT940,
			Convention:       model.Convention{DecimalSep: ","},
			DateFormat:       "YYMMDD",
			Markers:          []string{":60F:", ":60M:"},
			FilenamePatterns: []string{".sta", "mt940"},
		},
	}
}
