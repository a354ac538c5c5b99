package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role tags an account for downstream reports. Opaque to the core.
type Role string

const (
	RoleOperational Role = "operational"
	RoleInvestment  Role = "investment"
	RoleGuarantor   Role = "guarantor"
	RoleFinancing   Role = "financing"
)

// Account is the local representation of one bank account.
type Account struct {
	ID           int64
	Institution  string
	IBAN         string // empty when unknown
	LegacyNumber string
	DisplayName  string
	CreditLine   *decimal.Decimal // negative; nil when none
	Roles        []Role
	Active       bool
	Provisional  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Label returns the most specific identifier for messages.
func (a Account) Label() string {
	switch {
	case a.IBAN != "":
		return a.IBAN
	case a.LegacyNumber != "":
		return a.LegacyNumber
	default:
		return a.DisplayName
	}
}
