package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Account is a store account items can be resolved and licensed with.
type Account struct {
	Email               string `toml:"email" json:"email" validate:"required,email"`
	CountryCode         string `toml:"country_code" json:"country_code" validate:"required,len=2"`
	DirectoryServicesID string `toml:"directory_services_id" json:"directory_services_id" validate:"required"`
}

type accountsFile struct {
	Accounts []Account `toml:"account" validate:"dive"`
}

// AccountStore is a read-only set of accounts, loaded once.
type AccountStore struct {
	mu       sync.RWMutex
	accounts []Account
}

func NewAccountStore(accounts ...Account) *AccountStore {
	return &AccountStore{accounts: accounts}
}

// LoadAccounts reads a TOML file of [[account]] tables. A missing file yields an
// empty store.
func LoadAccounts(path string) (*AccountStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("accounts file does not exist, starting with no accounts", "file_path", path)
			return NewAccountStore(), nil
		}
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var f accountsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid accounts file: %w", err)
	}

	slog.Info("accounts loaded", "file_path", path, "accounts_count", len(f.Accounts))
	return NewAccountStore(f.Accounts...), nil
}

// Accounts returns every account in file order.
func (s *AccountStore) Accounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// Find looks an account up by email, ignoring case.
func (s *AccountStore) Find(email string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return a, true
		}
	}
	return Account{}, false
}
