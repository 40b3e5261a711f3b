package staging

import (
	"context"
	"fmt"

	"github.com/fundbridge/merchant-staging/internal/datanorm"
)

// IdentityIndex maps normalized emails to the staging id that first claimed
// them. It lives for one batch and is never persisted.
type IdentityIndex struct {
	byEmail  map[string]string
	byOrigin map[string]string
}

// NewIdentityIndex returns an empty index.
func NewIdentityIndex() *IdentityIndex {
	return &IdentityIndex{
		byEmail:  make(map[string]string),
		byOrigin: make(map[string]string),
	}
}

// BuildIdentityIndex scans the whole staging table. The cost is one full
// scan per batch; every batch sees staging rows written since the last one.
func BuildIdentityIndex(ctx context.Context, store Store) (*IdentityIndex, error) {
	idx := NewIdentityIndex()
	err := store.ScanIdentities(ctx, func(row Identity) error {
		idx.Register(row.StagingID, row.Emails)
		if row.OriginKey != "" {
			idx.byOrigin[row.OriginKey] = row.StagingID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan staging identities: %w", err)
	}
	return idx, nil
}

// Register links every email to id unless an earlier record already claimed it.
func (ix *IdentityIndex) Register(id string, emails []string) {
	for _, e := range emails {
		e = datanorm.NormalizeEmail(e)
		if e == "" {
			continue
		}
		if _, taken := ix.byEmail[e]; !taken {
			ix.byEmail[e] = id
		}
	}
}

// Match returns the staging id owning the first email that hits.
// emails must be in email column order.
func (ix *IdentityIndex) Match(emails []string) (string, bool) {
	for _, e := range emails {
		if id, ok := ix.byEmail[datanorm.NormalizeEmail(e)]; ok {
			return id, true
		}
	}
	return "", false
}

// MarkOrigin records that the pending row behind originKey became stagingID.
func (ix *IdentityIndex) MarkOrigin(originKey, stagingID string) {
	ix.byOrigin[originKey] = stagingID
}

// Origin returns the staging id already created from originKey, if any.
func (ix *IdentityIndex) Origin(originKey string) (string, bool) {
	id, ok := ix.byOrigin[originKey]
	return id, ok
}

// Len returns the number of distinct emails indexed.
func (ix *IdentityIndex) Len() int { return len(ix.byEmail) }
