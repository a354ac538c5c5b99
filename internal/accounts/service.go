package accounts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cleared-dev/auszug/internal/model"
)

// IBANBinder receives IBAN to institution bindings.
type IBANBinder interface {
	BindIBAN(iban, institution string) error
}

// Service provides in-memory lookup over the account seed file.
type Service struct {
	accounts []model.Account
	byIBAN   map[string]model.Account
	byLegacy map[string]model.Account
}

// NewService creates a Service from a slice of accounts. It fails on
// duplicate identifiers.
func NewService(accounts []model.Account) (*Service, error) {
	s := &Service{
		accounts: accounts,
		byIBAN:   make(map[string]model.Account, len(accounts)),
		byLegacy: make(map[string]model.Account, len(accounts)),
	}
	for _, a := range accounts {
		if a.IBAN != "" {
			if _, dup := s.byIBAN[a.IBAN]; dup {
				return nil, fmt.Errorf("duplicate iban %s", a.IBAN)
			}
			s.byIBAN[a.IBAN] = a
		}
		if a.LegacyNumber != "" {
			key := legacyKey(a.Institution, a.LegacyNumber)
			if _, dup := s.byLegacy[key]; dup {
				return nil, fmt.Errorf("duplicate legacy number %s at %s", a.LegacyNumber, a.Institution)
			}
			s.byLegacy[key] = a
		}
	}
	return s, nil
}

// Load reads the seed file at path and returns a Service. A missing file
// yields an empty service.
func Load(path string) (*Service, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewService(nil)
		}
		return nil, fmt.Errorf("opening accounts file: %w", err)
	}
	defer f.Close()

	accts, err := ReadAccounts(f)
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	return NewService(accts)
}

// All returns all accounts.
func (s *Service) All() []model.Account {
	return s.accounts
}

// ByIBAN returns the account with the given compact IBAN.
func (s *Service) ByIBAN(iban string) (model.Account, bool) {
	a, ok := s.byIBAN[iban]
	return a, ok
}

// ByLegacy returns the account with the given legacy number at an
// institution.
func (s *Service) ByLegacy(institution, number string) (model.Account, bool) {
	a, ok := s.byLegacy[legacyKey(institution, number)]
	return a, ok
}

// Bind registers every IBAN with its institution, building the IBAN table
// of the dispatcher.
func (s *Service) Bind(b IBANBinder) error {
	for _, a := range s.accounts {
		if a.IBAN == "" {
			continue
		}
		if err := b.BindIBAN(a.IBAN, a.Institution); err != nil {
			return fmt.Errorf("account %s: %w", a.Label(), err)
		}
	}
	return nil
}

// Save writes the seed file to path.
func (s *Service) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating accounts dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating accounts file: %w", err)
	}
	defer f.Close()

	if err := WriteAccounts(f, s.accounts); err != nil {
		return fmt.Errorf("writing accounts file: %w", err)
	}
	return nil
}

func legacyKey(institution, number string) string {
	return institution + "/" + number
}
