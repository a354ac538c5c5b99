package accounts

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/auszug/internal/model"
)

func TestRoundTrip(t *testing.T) {
	cl := decimal.NewFromInt(-1000)
	accounts := []model.Account{
		{IBAN: "DE58743500000001234567", LegacyNumber: "1234567", DisplayName: "Betriebskonto", Institution: "sparkasse", CreditLine: &cl, Roles: []model.Role{model.RoleOperational}, Active: true},
		{IBAN: "DE40700202700012345678", DisplayName: "HVB", Institution: "hvb", Roles: []model.Role{model.RoleFinancing, model.RoleGuarantor}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAccounts(&buf, accounts))

	got, err := ReadAccounts(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, accounts[0].IBAN, got[0].IBAN)
	assert.Equal(t, "1234567", got[0].LegacyNumber)
	require.NotNil(t, got[0].CreditLine)
	assert.True(t, cl.Equal(*got[0].CreditLine))
	assert.True(t, got[0].Active)

	assert.Nil(t, got[1].CreditLine)
	assert.Equal(t, []model.Role{model.RoleFinancing, model.RoleGuarantor}, got[1].Roles)
	assert.False(t, got[1].Active)
}

func TestReadTestdata(t *testing.T) {
	f, err := os.Open("../../testdata/accounts.csv")
	require.NoError(t, err)
	defer f.Close()

	accts, err := ReadAccounts(f)
	require.NoError(t, err)
	require.Len(t, accts, 5)

	spk := accts[0]
	assert.Equal(t, "sparkasse", spk.Institution)
	require.NotNil(t, spk.CreditLine)
	assert.Equal(t, "-250000.00", spk.CreditLine.StringFixed(2))

	// Empty active column means active.
	assert.True(t, accts[2].Active)
	assert.Equal(t, []model.Role{model.RoleInvestment, model.RoleGuarantor}, accts[2].Roles)

	landau := accts[3]
	require.NotNil(t, landau.CreditLine)
	assert.Equal(t, "-50000.00", landau.CreditLine.StringFixed(2))

	assert.False(t, accts[4].Active)
}

func TestUnmarshalAccount_PositiveCreditLineNegated(t *testing.T) {
	acct, err := UnmarshalAccount([]string{"DE58 7435 0000 0001 2345 67", "", "x", "sparkasse", "10.000,00", "", "true"})
	require.NoError(t, err)
	assert.Equal(t, "DE58743500000001234567", acct.IBAN)
	assert.Equal(t, "-10000.00", acct.CreditLine.StringFixed(2))
}

func TestUnmarshalAccount_Errors(t *testing.T) {
	tests := []struct {
		name   string
		record []string
		want   string
	}{
		{"wrong field count", []string{"a", "b"}, "expected 7 fields"},
		{"no identifier", []string{"", "", "x", "hvb", "", "", ""}, "neither iban nor legacy_number"},
		{"bad iban", []string{"DE99743500000001234567", "", "x", "hvb", "", "", ""}, "invalid iban"},
		{"no institution", []string{"", "42", "x", "", "", "", ""}, "no institution"},
		{"bad credit line", []string{"", "42", "x", "hvb", "lots", "", ""}, "credit_line"},
		{"sub-cent credit line", []string{"", "42", "x", "hvb", "-1.001", "", ""}, "credit_line"},
		{"bad active", []string{"", "42", "x", "hvb", "", "", "maybe"}, "active"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalAccount(tt.record)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadAccounts_ReportsRow(t *testing.T) {
	in := strings.Join([]string{
		"iban,legacy_number,display_name,institution,credit_line,roles,active",
		",1,ok,hvb,,,",
		",,broken,hvb,,,",
	}, "\n")
	_, err := ReadAccounts(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 3")
}

func TestReadAccounts_Empty(t *testing.T) {
	accts, err := ReadAccounts(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, accts)
}
