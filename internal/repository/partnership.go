package repository

import (
	"context"
	"fmt"

	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/models"
)

const partnershipsCollection = "partnerships"

// partnershipDoc is the stored layout of partnerships/{id}. Users[1] holds an
// empty string until someone joins.
type partnershipDoc struct {
	Users      []string `json:"users"`
	InviteCode string   `json:"inviteCode"`
	CreatedBy  string   `json:"createdBy"`
	Status     string   `json:"status"`
	CreatedAt  int64    `json:"createdAt"`
}

func (d *partnershipDoc) toModel(id string) *models.Partnership {
	p := &models.Partnership{
		ID:         id,
		InviteCode: d.InviteCode,
		CreatedBy:  d.CreatedBy,
		Status:     models.PartnershipStatus(d.Status),
		CreatedAt:  fromMillis(d.CreatedAt),
	}
	copy(p.Members[:], d.Users)
	return p
}

// PartnershipRepository handles document store operations for partnerships.
// Every write that touches a partnership also touches its members' user
// documents in the same batch.
type PartnershipRepository struct {
	store docstore.Store
}

// NewPartnershipRepository creates a new partnership repository
func NewPartnershipRepository(store docstore.Store) *PartnershipRepository {
	return &PartnershipRepository{store: store}
}

func partnershipPath(id string) string {
	return docstore.Doc(partnershipsCollection, id)
}

// GetByID retrieves a partnership by ID, always from the authoritative store
func (r *PartnershipRepository) GetByID(ctx context.Context, id string) (*models.Partnership, error) {
	snap, err := r.store.Get(ctx, partnershipPath(id), docstore.FromServer())
	if err != nil {
		return nil, fmt.Errorf("failed to get partnership %s: %w", id, err)
	}
	var doc partnershipDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toModel(snap.ID), nil
}

// GetPendingByCode finds the pending partnership holding an invite code
func (r *PartnershipRepository) GetPendingByCode(ctx context.Context, code string) (*models.Partnership, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{
		Collection: partnershipsCollection,
		Filters: []docstore.Filter{
			docstore.Where("inviteCode", code),
			docstore.Where("status", string(models.PartnershipPending)),
		},
		OrderBy: "createdAt",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find partnership by code: %w", err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("no pending partnership for code: %w", docstore.ErrNotFound)
	}
	var doc partnershipDoc
	if err := snaps[0].DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toModel(snaps[0].ID), nil
}

// CodeInUse checks if a pending partnership already holds the code
func (r *PartnershipRepository) CodeInUse(ctx context.Context, code string) (bool, error) {
	_, err := r.GetPendingByCode(ctx, code)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreatePending writes a pending partnership and stamps its creator in one
// batch. The batch fails with docstore.ErrPreconditionFailed if the creator
// gained a partnership since it was read.
func (r *PartnershipRepository) CreatePending(ctx context.Context, p *models.Partnership) error {
	creator := p.Members[0]
	b := docstore.NewBatch().
		Set(partnershipPath(p.ID), map[string]any{
			"users":      []string{creator, ""},
			"inviteCode": p.InviteCode,
			"createdBy":  p.CreatedBy,
			"status":     string(models.PartnershipPending),
			"createdAt":  docstore.ServerTimestamp,
		}).
		Update(userPath(creator),
			map[string]any{"partnershipId": p.ID},
			docstore.Match(map[string]any{"partnershipId": nil}),
		)

	if err := r.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to create partnership: %w", err)
	}
	return nil
}

// Activate fills slot 1 with the joiner, marks the partnership active and
// links both users to each other. The batch fails with
// docstore.ErrPreconditionFailed if the partnership stopped being pending or
// either user's linkage changed since it was read.
func (r *PartnershipRepository) Activate(ctx context.Context, p *models.Partnership, joinerID string) error {
	creator := p.Members[0]
	b := docstore.NewBatch().
		Update(partnershipPath(p.ID),
			map[string]any{
				"users":  []string{creator, joinerID},
				"status": string(models.PartnershipActive),
			},
			docstore.Match(map[string]any{"status": string(models.PartnershipPending)}),
		).
		Update(userPath(joinerID),
			map[string]any{"partnershipId": p.ID, "partnerId": creator},
			docstore.Match(map[string]any{"partnershipId": nil}),
		).
		Update(userPath(creator),
			map[string]any{"partnerId": joinerID},
			docstore.Match(map[string]any{"partnershipId": p.ID}),
		)

	if err := r.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to activate partnership: %w", err)
	}
	return nil
}

// Dissolve clears the linkage of every listed member and deletes the
// partnership in one batch. For an active partnership each member also keeps
// its id in pastPartnershipIds. The batch requires the partnership to still
// have the status it was read with and every listed member to still point at
// it, so a concurrent join or dissolve makes this one fail with
// docstore.ErrPreconditionFailed.
func (r *PartnershipRepository) Dissolve(ctx context.Context, p *models.Partnership, members []string) error {
	b := docstore.NewBatch()
	for _, id := range members {
		fields := map[string]any{
			"partnerId":     nil,
			"partnershipId": nil,
		}
		if p.Status == models.PartnershipActive {
			fields["pastPartnershipIds"] = docstore.ArrayUnion(p.ID)
		}
		b.Update(userPath(id), fields, docstore.Match(map[string]any{"partnershipId": p.ID}))
	}
	b.Delete(partnershipPath(p.ID), docstore.Match(map[string]any{"status": string(p.Status)}))

	if err := r.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to dissolve partnership: %w", err)
	}
	return nil
}
