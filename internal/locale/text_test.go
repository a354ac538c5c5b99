package locale

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCleanDescription(t *testing.T) {
	assert.Equal(t, "MIETE SEPT Wohnbau GmbH", CleanDescription("  MIETE   SEPT ", "\tWohnbau  GmbH"))
	assert.Equal(t, "", CleanDescription())
}

func TestCleanDescription_Truncates(t *testing.T) {
	long := strings.Repeat("ä", 600)
	got := CleanDescription(long)
	assert.Equal(t, MaxDescriptionLen, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, Ellipsis))
}

func TestFindGermanIBANs(t *testing.T) {
	text := "Konto DE12 7435 0000 0001 2345 67 und DE89370400440532013000, nochmal DE89370400440532013000"
	assert.Equal(t, []string{"DE12743500000001234567", "DE89370400440532013000"}, FindGermanIBANs(text))
	assert.Empty(t, FindGermanIBANs("keine IBAN hier"))
}

func TestFindIBAN(t *testing.T) {
	assert.Equal(t, "AT611904300234573201", FindIBAN("AT611904300234573201 03.11.2025"))
	assert.Equal(t, "DE02120300000000202051", FindIBAN("DE02 1203 0000 0000 2020 51 06.11.2025"))
	assert.Equal(t, "", FindIBAN("Rechnung 4711"))
}

func TestBankCode(t *testing.T) {
	assert.Equal(t, "74350000", BankCode("DE12 7435 0000 0001 2345 67"))
	assert.Equal(t, "", BankCode("AT611904300234573201"))
}

func TestValidIBAN(t *testing.T) {
	assert.True(t, ValidIBAN("DE89370400440532013000"))
	assert.True(t, ValidIBAN("DE44 5001 0517 5407 3249 31"))
	assert.True(t, ValidIBAN("GB82WEST12345698765432"))
	assert.False(t, ValidIBAN("DE89370400440532013001"))
	assert.False(t, ValidIBAN("DE99999999999999999999"))
	assert.False(t, ValidIBAN("DE89"))
	assert.False(t, ValidIBAN("DE89-3704-0044-0532-0130-00"))
}
