package services

import (
	"context"
	"strings"
	"testing"

	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_SignInCreatesThenTouches(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	id := &identity.Identity{ExternalID: "ext-1", DisplayName: "Min", Email: "min@example.com", PhotoURL: "https://img/min.png"}
	user, token, err := e.users.SignIn(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", user.ID)
	assert.Nil(t, user.PartnerID)
	assert.Nil(t, user.PartnershipID)
	assert.Empty(t, user.PastPartnershipIDs)
	require.NotNil(t, user.PhotoURL)
	assert.False(t, user.CreatedAt.IsZero())

	userID, err := e.users.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", userID)

	nick := "Minnie"
	_, err = e.users.UpdateProfile(ctx, "ext-1", ProfileUpdate{Nickname: &nick})
	require.NoError(t, err)

	again, _, err := e.users.SignIn(ctx, &identity.Identity{ExternalID: "ext-1", DisplayName: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, "Min", again.DisplayName, "later sign-ins only record the login")
	assert.Equal(t, "Minnie", again.Label())
	assert.Equal(t, user.CreatedAt, again.CreatedAt)
}

func TestUser_ValidateJWTRejectsForeignTokens(t *testing.T) {
	e := newTestEnv(t)
	other := NewUserService(nil, "other-secret")
	token, err := other.GenerateJWT("u1")
	require.NoError(t, err)

	_, err = e.users.ValidateJWT(token)
	assert.Error(t, err)
	_, err = e.users.ValidateJWT("garbage")
	assert.Error(t, err)
}

func TestUser_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.signIn(t, "u1", "Display")

	long := strings.Repeat("가", 21)
	_, err := e.users.UpdateProfile(ctx, "u1", ProfileUpdate{Nickname: &long})
	assert.ErrorIs(t, err, ErrInvalidNickname)

	nick, photo := "  Chef  ", "https://cdn/avatar.png"
	user, err := e.users.UpdateProfile(ctx, "u1", ProfileUpdate{Nickname: &nick, CustomPhotoURL: &photo})
	require.NoError(t, err)
	assert.Equal(t, "Chef", user.Label())
	require.NotNil(t, user.Photo())
	assert.Equal(t, photo, *user.Photo())

	none := ""
	user, err = e.users.UpdateProfile(ctx, "u1", ProfileUpdate{Nickname: &none})
	require.NoError(t, err)
	assert.Equal(t, "Display", user.Label())
	assert.Equal(t, photo, *user.Photo(), "omitted fields are kept")

	_, err = e.users.UpdateProfile(ctx, "ghost", ProfileUpdate{Nickname: &nick})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUser_UpdatePushToken(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.signIn(t, "u1", "Display")

	require.NoError(t, e.users.UpdatePushToken(ctx, "u1", "device-token"))
	user := e.user(t, "u1")
	require.NotNil(t, user.PushToken)
	assert.Equal(t, "device-token", *user.PushToken)

	require.NoError(t, e.users.UpdatePushToken(ctx, "u1", ""))
	assert.Nil(t, e.user(t, "u1").PushToken)

	assert.ErrorIs(t, e.users.UpdatePushToken(ctx, "ghost", "t"), ErrNotFound)
}

func TestUser_RacingFirstSignInKeepsInviteStamp(t *testing.T) {
	ctx := context.Background()
	var racing *interleavingStore
	e := newTestEnvWith(t, func(inner docstore.Store) docstore.Store {
		racing = &interleavingStore{Store: inner}
		return racing
	})

	id := &identity.Identity{ExternalID: "ext-2", DisplayName: "Min"}
	var code string
	var innerErr error
	racing.arm(writes(docstore.Doc("users", "ext-2")), func() {
		if _, _, innerErr = e.users.SignIn(ctx, id); innerErr != nil {
			return
		}
		code, innerErr = e.partnerships.CreateInvite(ctx, "ext-2")
	})

	user, token, err := e.users.SignIn(ctx, id)
	require.NoError(t, err)
	require.NoError(t, innerErr)
	assert.NotEmpty(t, token)
	assert.NotEmpty(t, code)
	require.NotNil(t, user.PartnershipID, "the later create does not wipe the invite")

	p, err := e.partnerships.GetPartnership(ctx, "ext-2")
	require.NoError(t, err)
	assert.Equal(t, *user.PartnershipID, p.ID)
}
