// Package catalog resolves work items into downloadable descriptors.
package catalog

import (
	"context"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
)

// CandidateType is a catalog entity kind an item may be listed under.
type CandidateType string

const (
	CandidateSoftware     CandidateType = "software"
	CandidateIPadSoftware CandidateType = "iPadSoftware"
	CandidateMacSoftware  CandidateType = "macSoftware"
)

// CandidateTypes is the fixed order in which entity kinds are tried.
var CandidateTypes = []CandidateType{
	CandidateSoftware,
	CandidateIPadSoftware,
	CandidateMacSoftware,
}

// Lookup finds the descriptor of itemID for one candidate type in the account's
// region. It returns an error wrapping errors.ErrNotFound on a miss.
type Lookup interface {
	Lookup(ctx context.Context, candidate CandidateType, itemID string, account Account) (*domain.ItemDescriptor, error)
}
