package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/identity"
	"couple-cook-backend/internal/models"
	"couple-cook-backend/internal/repository"

	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	UserID string
	Event  Event
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(_ context.Context, userID string, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{UserID: userID, Event: event})
}

func (n *recordingNotifier) ofType(eventType string) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedEvent
	for _, e := range n.events {
		if e.Event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	store        *docstore.MemoryStore
	users        *UserService
	partnerships *PartnershipService
	recipes      *RecipeService
	notifier     *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil)
}

// newTestEnvWith builds the services over wrap(store) when wrap is set
func newTestEnvWith(t *testing.T, wrap func(docstore.Store) docstore.Store) *testEnv {
	t.Helper()
	store := docstore.NewMemoryStore()
	var backing docstore.Store = store
	if wrap != nil {
		backing = wrap(store)
	}
	userRepo := repository.NewUserRepository(backing)
	partnershipRepo := repository.NewPartnershipRepository(backing)
	recipeRepo := repository.NewRecipeRepository(backing, 0)
	notifier := &recordingNotifier{}

	return &testEnv{
		store:        store,
		users:        NewUserService(userRepo, "test-secret"),
		partnerships: NewPartnershipService(userRepo, partnershipRepo, notifier, 0),
		recipes:      NewRecipeService(userRepo, recipeRepo, notifier),
		notifier:     notifier,
	}
}

// interleavingStore runs a write of its own right before the first commit
// matching when, as if another request had landed in that window
type interleavingStore struct {
	docstore.Store
	mu   sync.Mutex
	when func(*docstore.Batch) bool
	run  func()
}

func (s *interleavingStore) arm(when func(*docstore.Batch) bool, run func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.when, s.run = when, run
}

func (s *interleavingStore) Commit(ctx context.Context, b *docstore.Batch) error {
	s.mu.Lock()
	var run func()
	if s.when != nil && s.when(b) {
		run = s.run
		s.when, s.run = nil, nil
	}
	s.mu.Unlock()

	if run != nil {
		run()
	}
	return s.Store.Commit(ctx, b)
}

// deletes reports whether the batch deletes a document under prefix
func deletes(prefix string) func(*docstore.Batch) bool {
	return func(b *docstore.Batch) bool {
		for _, op := range b.Ops() {
			if op.Kind == docstore.OpDelete && strings.HasPrefix(op.Path, prefix) {
				return true
			}
		}
		return false
	}
}

// writes reports whether the batch writes the document at path
func writes(path string) func(*docstore.Batch) bool {
	return func(b *docstore.Batch) bool {
		for _, op := range b.Ops() {
			if op.Path == path && op.Kind != docstore.OpDelete {
				return true
			}
		}
		return false
	}
}

// signIn creates a user with the given id
func (e *testEnv) signIn(t *testing.T, id, name string) *models.User {
	t.Helper()
	user, _, err := e.users.SignIn(context.Background(), &identity.Identity{
		ExternalID:  id,
		DisplayName: name,
		Email:       id + "@example.com",
	})
	require.NoError(t, err)
	return user
}

func (e *testEnv) user(t *testing.T, id string) *models.User {
	t.Helper()
	user, err := e.users.GetUser(context.Background(), id, true)
	require.NoError(t, err)
	return user
}

// fixedCodes returns the given codes in order, then repeats the last one
func fixedCodes(codes ...string) CodeGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[min(i, len(codes)-1)]
		i++
		return code, nil
	}
}

func stew() CreateRecipeRequest {
	return CreateRecipeRequest{
		Title:       "Kimchi Stew",
		Ingredients: []models.Ingredient{{Name: "kimchi", Quantity: "300", Unit: "g"}, {Name: "pork belly", Quantity: "200", Unit: "g"}},
		Steps:       []string{"Fry kimchi and pork", "Add water and simmer"},
	}
}

func recipeTitles(recipes []*models.Recipe) []string {
	var out []string
	for _, r := range recipes {
		out = append(out, r.Title)
	}
	return out
}

// requireSymmetric checks that partner links mirror each other and only
// exist inside an active partnership
func requireSymmetric(t *testing.T, e *testEnv, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		u := e.user(t, id)
		if u.PartnerID == nil {
			continue
		}
		peer := e.user(t, *u.PartnerID)
		require.NotNil(t, peer.PartnerID, "peer of %s has no partner", id)
		require.Equal(t, id, *peer.PartnerID)
		require.NotNil(t, u.PartnershipID)
		require.NotNil(t, peer.PartnershipID)
		require.Equal(t, *u.PartnershipID, *peer.PartnershipID)

		p, err := e.partnerships.GetPartnership(ctx, id)
		require.NoError(t, err)
		require.Equal(t, models.PartnershipActive, p.Status)
	}
}
