package accounts

import (
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/auszug/internal/model"
)

// ExampleSeed returns the sample accounts written by "auszug init".
func ExampleSeed() []model.Account {
	creditLine := decimal.NewFromInt(-250000)
	return []model.Account{
		{
			IBAN:        "DE58743500000001234567",
			DisplayName: "Sparkasse Betriebskonto",
			Institution: "sparkasse",
			CreditLine:  &creditLine,
			Roles:       []model.Role{model.RoleOperational},
			Active:      true,
		},
		{
			IBAN:        "DE40700202700012345678",
			DisplayName: "HVB Einkaufsfinanzierung",
			Institution: "hvb",
			Roles:       []model.Role{model.RoleFinancing},
			Active:      true,
		},
		{
			IBAN:         "DE33743690880000123456",
			LegacyNumber: "123456",
			DisplayName:  "Raiffeisenbank Festgeld",
			Institution:  "vr_monthly",
			Roles:        []model.Role{model.RoleInvestment, model.RoleGuarantor},
			Active:       true,
		},
	}
}
