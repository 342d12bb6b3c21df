package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/models"
)

const usersCollection = "users"

// userDoc is the stored layout of users/{id}
type userDoc struct {
	DisplayName        string   `json:"displayName"`
	Nickname           *string  `json:"nickname"`
	Email              string   `json:"email"`
	PhotoURL           *string  `json:"photoURL"`
	CustomPhotoURL     *string  `json:"customPhotoURL"`
	PartnerID          *string  `json:"partnerId"`
	PartnershipID      *string  `json:"partnershipId"`
	PastPartnershipIDs []string `json:"pastPartnershipIds"`
	PushToken          *string  `json:"pushToken"`
	CreatedAt          int64    `json:"createdAt"`
	LastLoginAt        int64    `json:"lastLoginAt"`
}

func (d *userDoc) toModel(id string) *models.User {
	past := d.PastPartnershipIDs
	if past == nil {
		past = []string{}
	}
	return &models.User{
		ID:                 id,
		DisplayName:        d.DisplayName,
		Nickname:           d.Nickname,
		Email:              d.Email,
		PhotoURL:           d.PhotoURL,
		CustomPhotoURL:     d.CustomPhotoURL,
		PartnerID:          d.PartnerID,
		PartnershipID:      d.PartnershipID,
		PastPartnershipIDs: past,
		PushToken:          d.PushToken,
		CreatedAt:          fromMillis(d.CreatedAt),
		LastLoginAt:        fromMillis(d.LastLoginAt),
	}
}

// UserRepository handles document store operations for users
type UserRepository struct {
	store docstore.Store
}

// NewUserRepository creates a new user repository
func NewUserRepository(store docstore.Store) *UserRepository {
	return &UserRepository{store: store}
}

func userPath(id string) string {
	return docstore.Doc(usersCollection, id)
}

// Create writes a freshly signed-in user with no partnership linkage. It
// fails with docstore.ErrPreconditionFailed when the user already exists.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	doc := userDoc{
		DisplayName:        user.DisplayName,
		Email:              user.Email,
		PhotoURL:           user.PhotoURL,
		PastPartnershipIDs: []string{},
	}
	fields, err := docstore.Fields(doc)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	fields["createdAt"] = docstore.ServerTimestamp
	fields["lastLoginAt"] = docstore.ServerTimestamp

	if err := r.store.Commit(ctx, docstore.NewBatch().Set(userPath(user.ID), fields, docstore.NotExists())); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID. When fresh is set the read bypasses any
// cache and reflects every committed write.
func (r *UserRepository) GetByID(ctx context.Context, id string, fresh bool) (*models.User, error) {
	var opts []docstore.GetOption
	if fresh {
		opts = append(opts, docstore.FromServer())
	}
	snap, err := r.store.Get(ctx, userPath(id), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toModel(snap.ID), nil
}

// TouchLogin records a later sign-in
func (r *UserRepository) TouchLogin(ctx context.Context, id string) error {
	b := docstore.NewBatch().Update(userPath(id), map[string]any{"lastLoginAt": docstore.ServerTimestamp})
	if err := r.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// UpdateProfile overwrites the nickname and custom photo. A nil value clears
// the override.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, nickname, customPhotoURL *string) error {
	b := docstore.NewBatch().Update(userPath(id), map[string]any{
		"nickname":       nickname,
		"customPhotoURL": customPhotoURL,
	})
	if err := r.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// ClearPartnership unlinks a user who still points at partnershipID. With
// keepHistory the id is also kept in pastPartnershipIds. A user already
// linked elsewhere, or gone, is left untouched.
func (r *UserRepository) ClearPartnership(ctx context.Context, id, partnershipID string, keepHistory bool) error {
	fields := map[string]any{
		"partnerId":     nil,
		"partnershipId": nil,
	}
	if keepHistory {
		fields["pastPartnershipIds"] = docstore.ArrayUnion(partnershipID)
	}
	b := docstore.NewBatch().Update(userPath(id), fields,
		docstore.Match(map[string]any{"partnershipId": partnershipID}))

	err := r.store.Commit(ctx, b)
	if err != nil && !errors.Is(err, docstore.ErrPreconditionFailed) {
		return fmt.Errorf("failed to clear partnership: %w", err)
	}
	return nil
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, id string, pushToken *string) error {
	b := docstore.NewBatch().Update(userPath(id), map[string]any{"pushToken": pushToken})
	if err := r.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// toMillis returns the stored form of t, asking the store to stamp its commit
// time when t is unset.
func toMillis(t time.Time) any {
	if t.IsZero() {
		return docstore.ServerTimestamp
	}
	return t.UnixMilli()
}
