package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartnership_InviteJoinLeaveScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")
	y := e.signIn(t, "y", "Yuna")
	e.partnerships.SetCodeGenerator(fixedCodes("482913"))

	code, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, "482913", code)

	pending, err := e.partnerships.GetPartnership(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PartnershipPending, pending.Status)
	assert.Equal(t, [2]string{"x", ""}, pending.Members)
	assert.Nil(t, e.user(t, "x").PartnerID)

	joined, err := e.partnerships.JoinByCode(ctx, y.ID, "482913")
	require.NoError(t, err)
	assert.Equal(t, models.PartnershipActive, joined.Status)
	assert.Equal(t, [2]string{"x", "y"}, joined.Members)

	xNow, yNow := e.user(t, "x"), e.user(t, "y")
	require.NotNil(t, xNow.PartnerID)
	require.NotNil(t, yNow.PartnerID)
	assert.Equal(t, "y", *xNow.PartnerID)
	assert.Equal(t, "x", *yNow.PartnerID)
	requireSymmetric(t, e, "x", "y")

	joinedEvents := e.notifier.ofType(EventPartnershipJoined)
	require.Len(t, joinedEvents, 1)
	assert.Equal(t, "x", joinedEvents[0].UserID)

	recipe, err := e.recipes.Create(ctx, x.ID, stew())
	require.NoError(t, err)
	assert.Equal(t, joined.ID, recipe.ScopeID)

	list, err := e.recipes.List(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Kimchi Stew"}, recipeTitles(list))

	require.NoError(t, e.partnerships.Leave(ctx, y.ID, joined.ID))

	_, err = e.partnerships.GetPartnership(ctx, x.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.store.Get(ctx, "partnerships/"+joined.ID)
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	for _, id := range []string{"x", "y"} {
		u := e.user(t, id)
		assert.Nil(t, u.PartnerID, id)
		assert.Nil(t, u.PartnershipID, id)
		assert.Equal(t, []string{joined.ID}, u.PastPartnershipIDs, id)

		list, err := e.recipes.List(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"Kimchi Stew"}, recipeTitles(list), id)
	}

	leftEvents := e.notifier.ofType(EventPartnershipLeft)
	require.Len(t, leftEvents, 1)
	assert.Equal(t, "x", leftEvents[0].UserID)

	solo, err := e.recipes.Create(ctx, x.ID, CreateRecipeRequest{
		Title:       "Solo Ramen",
		Ingredients: []models.Ingredient{{Name: "noodles"}},
		Steps:       []string{"Boil"},
	})
	require.NoError(t, err)
	assert.Equal(t, "x", solo.ScopeID)

	yList, err := e.recipes.List(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Kimchi Stew"}, recipeTitles(yList))
}

func TestPartnership_CreateInviteTwiceFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")

	_, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)
	_, err = e.partnerships.CreateInvite(ctx, x.ID)
	assert.ErrorIs(t, err, ErrAlreadyPartnered)
}

func TestPartnership_JoinErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")
	y := e.signIn(t, "y", "Yuna")
	z := e.signIn(t, "z", "Zoe")
	e.partnerships.SetCodeGenerator(fixedCodes("111111", "222222"))

	code, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)

	_, err = e.partnerships.JoinByCode(ctx, x.ID, code)
	assert.ErrorIs(t, err, ErrSelfInvite)

	_, err = e.partnerships.JoinByCode(ctx, y.ID, "999999")
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = e.partnerships.JoinByCode(ctx, y.ID, "12")
	assert.ErrorIs(t, err, ErrInvalidCode)

	zCode, err := e.partnerships.CreateInvite(ctx, z.ID)
	require.NoError(t, err)
	_, err = e.partnerships.JoinByCode(ctx, z.ID, code)
	assert.ErrorIs(t, err, ErrAlreadyPartnered)

	_, err = e.partnerships.JoinByCode(ctx, y.ID, code)
	require.NoError(t, err)

	// An active partnership's code is no longer joinable.
	w := e.signIn(t, "w", "Won")
	_, err = e.partnerships.JoinByCode(ctx, w.ID, code)
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = e.partnerships.JoinByCode(ctx, y.ID, zCode)
	assert.ErrorIs(t, err, ErrAlreadyPartnered)

	requireSymmetric(t, e, "x", "y", "z", "w")
}

func TestPartnership_LeaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")
	y := e.signIn(t, "y", "Yuna")

	code, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)
	p, err := e.partnerships.JoinByCode(ctx, y.ID, code)
	require.NoError(t, err)

	require.NoError(t, e.partnerships.Leave(ctx, x.ID, p.ID))
	require.NoError(t, e.partnerships.Leave(ctx, x.ID, p.ID))
	require.NoError(t, e.partnerships.Leave(ctx, y.ID, p.ID))

	for _, id := range []string{"x", "y"} {
		u := e.user(t, id)
		assert.Nil(t, u.PartnerID)
		assert.Nil(t, u.PartnershipID)
		assert.Equal(t, []string{p.ID}, u.PastPartnershipIDs, "history is recorded once")
	}
	assert.Len(t, e.notifier.ofType(EventPartnershipLeft), 1)
}

func TestPartnership_ConcurrentDuplicateLeave(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")
	y := e.signIn(t, "y", "Yuna")

	code, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)
	p, err := e.partnerships.JoinByCode(ctx, y.ID, code)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.partnerships.Leave(ctx, x.ID, p.ID)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	for _, id := range []string{"x", "y"} {
		u := e.user(t, id)
		assert.Nil(t, u.PartnershipID)
		assert.Equal(t, []string{p.ID}, u.PastPartnershipIDs)
	}
}

func TestPartnership_CancelPendingInviteRecordsNoHistory(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")

	_, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)
	p, err := e.partnerships.GetPartnership(ctx, x.ID)
	require.NoError(t, err)

	require.NoError(t, e.partnerships.Leave(ctx, x.ID, p.ID))
	u := e.user(t, "x")
	assert.Nil(t, u.PartnershipID)
	assert.Empty(t, u.PastPartnershipIDs)
	assert.Empty(t, e.notifier.ofType(EventPartnershipLeft))

	_, err = e.partnerships.CreateInvite(ctx, x.ID)
	assert.NoError(t, err, "a cancelled invite frees the user")
}

func TestPartnership_JoinDuringInviteCancelLeavesNoOneStranded(t *testing.T) {
	ctx := context.Background()
	var racing *interleavingStore
	e := newTestEnvWith(t, func(inner docstore.Store) docstore.Store {
		racing = &interleavingStore{Store: inner}
		return racing
	})
	x := e.signIn(t, "x", "Xavier")
	y := e.signIn(t, "y", "Yuna")

	code, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)
	p, err := e.partnerships.GetPartnership(ctx, x.ID)
	require.NoError(t, err)

	var joinErr error
	racing.arm(deletes("partnerships/"), func() {
		_, joinErr = e.partnerships.JoinByCode(ctx, y.ID, code)
	})

	require.NoError(t, e.partnerships.Leave(ctx, x.ID, p.ID))
	require.NoError(t, joinErr, "the join landed before the cancel committed")

	_, err = e.partnerships.GetPartnership(ctx, y.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, id := range []string{"x", "y"} {
		u := e.user(t, id)
		assert.Nil(t, u.PartnerID, id)
		assert.Nil(t, u.PartnershipID, id)
		assert.Equal(t, []string{p.ID}, u.PastPartnershipIDs, id)
	}
	requireSymmetric(t, e, "x", "y")

	left := e.notifier.ofType(EventPartnershipLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "y", left[0].UserID)
}

func TestPartnership_LeaveClearsLinkToVanishedPartnership(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.signIn(t, "x", "Xavier")
	e.signIn(t, "y", "Yuna")
	id := pairUp(t, e, "x", "y")

	// Only the partnership document is gone; y still points at it.
	require.NoError(t, e.store.Commit(ctx, docstore.NewBatch().Delete(docstore.Doc("partnerships", id))))

	require.NoError(t, e.partnerships.Leave(ctx, "y", id))
	u := e.user(t, "y")
	assert.Nil(t, u.PartnerID)
	assert.Nil(t, u.PartnershipID)
	assert.Equal(t, []string{id}, u.PastPartnershipIDs)

	_, err := e.partnerships.CreateInvite(ctx, "y")
	assert.NoError(t, err, "y can partner again")
}

func TestPartnership_LeaveByNonMember(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")
	z := e.signIn(t, "z", "Zoe")

	_, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)
	p, err := e.partnerships.GetPartnership(ctx, x.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, e.partnerships.Leave(ctx, z.ID, p.ID), ErrNotMember)
	assert.NotNil(t, e.user(t, "x").PartnershipID)
}

func TestPartnership_InviteCodeAttemptsAreBounded(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")
	y := e.signIn(t, "y", "Yuna")

	e.partnerships.SetCodeGenerator(fixedCodes("555555"))
	_, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)

	calls := 0
	e.partnerships.maxAttempts = 3
	e.partnerships.SetCodeGenerator(func() (string, error) {
		calls++
		return "555555", nil
	})
	_, err = e.partnerships.CreateInvite(ctx, y.ID)
	assert.ErrorIs(t, err, ErrInviteCodeExhausted)
	assert.Equal(t, 3, calls)
	assert.Nil(t, e.user(t, "y").PartnershipID)

	e.partnerships.SetCodeGenerator(fixedCodes("555555", "555555", "666666"))
	code, err := e.partnerships.CreateInvite(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, "666666", code)
}

func TestPartnership_FailedJoinChangesNothing(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")
	y := e.signIn(t, "y", "Yuna")

	code, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)

	e.store.BeforeCommit = func(*docstore.Batch) error { return errors.New("store unavailable") }
	_, err = e.partnerships.JoinByCode(ctx, y.ID, code)
	e.store.BeforeCommit = nil
	assert.ErrorIs(t, err, ErrWriteFailed)

	assert.Nil(t, e.user(t, "x").PartnerID)
	assert.Nil(t, e.user(t, "y").PartnershipID)
	p, err := e.partnerships.GetPartnership(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PartnershipPending, p.Status)
}

func TestPartnership_ConcurrentJoinsLinkOnlyOne(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	x := e.signIn(t, "x", "Xavier")
	joiners := []string{"a", "b", "c", "d"}
	for _, id := range joiners {
		e.signIn(t, id, id)
	}

	code, err := e.partnerships.CreateInvite(ctx, x.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, len(joiners))
	for i, id := range joiners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.partnerships.JoinByCode(ctx, id, code)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	assert.Equal(t, 1, succeeded)

	linked := 0
	for _, id := range joiners {
		if e.user(t, id).PartnershipID != nil {
			linked++
		}
	}
	assert.Equal(t, 1, linked)
	requireSymmetric(t, e, append(joiners, "x")...)
}

func TestPartnership_GetPartner(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.signIn(t, "x", "Xavier")

	nick := "Xav"
	_, err := e.users.UpdateProfile(ctx, "x", ProfileUpdate{Nickname: &nick})
	require.NoError(t, err)

	profile, err := e.partnerships.GetPartner(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Xav", profile.Name)

	missing, err := e.partnerships.GetPartner(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
