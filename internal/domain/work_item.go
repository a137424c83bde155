package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// AnyAccount marks an item whose owning account is not known up front.
const AnyAccount = "*"

// WorkItem is a unit of downloadable content. It is never modified after a batch starts.
type WorkItem struct {
	ID              string   `json:"id" yaml:"bundle_identifier" validate:"required"`
	Name            string   `json:"name,omitempty" yaml:"name"`
	Account         string   `json:"account,omitempty" yaml:"account"`
	AllowedAccounts []string `json:"allowed_accounts,omitempty" yaml:"allowed_accounts"`
	TargetDir       string   `json:"target_dir,omitempty" yaml:"-"`
}

// Unassigned reports whether any eligible account may own the item.
func (w WorkItem) Unassigned() bool {
	return w.Account == "" || w.Account == AnyAccount
}

// AllowsAccount matches email against the allow list, case-insensitively.
// An empty allow list permits every account.
func (w WorkItem) AllowsAccount(email string) bool {
	if len(w.AllowedAccounts) == 0 {
		return true
	}
	for _, a := range w.AllowedAccounts {
		if strings.EqualFold(a, email) {
			return true
		}
	}
	return false
}

// ItemDescriptor is the resolved catalog entry for a work item.
type ItemDescriptor struct {
	ItemID    string `json:"item_id" validate:"required"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	SourceURL string `json:"source_url" validate:"required,url"`
	Checksum  string `json:"checksum" validate:"required,hexadecimal"`
	AvatarURL string `json:"avatar_url,omitempty" validate:"omitempty,url"`
}

var descriptorValidate = validator.New()

// Validate checks the descriptor once, where it enters the system.
func (d *ItemDescriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("descriptor is nil")
	}
	if err := descriptorValidate.Struct(d); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}
	return nil
}
