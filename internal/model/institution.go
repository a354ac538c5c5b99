package model

// Convention describes how an institution prints amounts.
type Convention struct {
	ThousandsSep string `yaml:"thousands_sep"`
	DecimalSep   string `yaml:"decimal_sep"`
}

// GermanConvention is "1.234.567,89".
var GermanConvention = Convention{ThousandsSep: ".", DecimalSep: ","}

// Institution is a bank whose statements the core understands.
type Institution struct {
	Name        string     `yaml:"name"`
	DisplayName string     `yaml:"display_name"`
	Parser      string     `yaml:"parser"`
	Convention  Convention `yaml:"convention"`
	DateFormat  string     `yaml:"date_format"`
	// BankCodes are the 8-digit German bank codes (IBAN positions 5-12)
	// this institution issues.
	BankCodes        []string `yaml:"bank_codes,omitempty"`
	Markers          []string `yaml:"markers,omitempty"`
	FilenamePatterns []string `yaml:"filename_patterns,omitempty"`
}
