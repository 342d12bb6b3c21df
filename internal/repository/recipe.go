package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/models"

	"golang.org/x/sync/errgroup"
)

const (
	recipesCollection  = "recipes"
	versionsCollection = "versions"
	commentsCollection = "comments"

	// scopeField holds a recipe's scope id. It keeps the name it has always
	// had in stored documents.
	scopeField = "partnershipId"

	// loadConcurrency bounds parallel sub-collection reads per list call.
	loadConcurrency = 8
)

type recipeDoc struct {
	PartnershipID       string `json:"partnershipId"`
	Title               string `json:"title"`
	ImageURL            string `json:"imageUrl"`
	AuthorID            string `json:"authorId"`
	AuthorName          string `json:"authorName"`
	CurrentVersionIndex int    `json:"currentVersionIndex"`
	CreatedAt           int64  `json:"createdAt"`
	UpdatedAt           int64  `json:"updatedAt"`
}

type versionDoc struct {
	VersionNumber int                       `json:"versionNumber"`
	Ingredients   []models.StoredIngredient `json:"ingredients"`
	Steps         []string                  `json:"steps"`
	Notes         string                    `json:"notes"`
	CreatedAt     int64                     `json:"createdAt"`
}

type commentDoc struct {
	UserID       string  `json:"userId"`
	UserName     string  `json:"userName"`
	UserPhotoURL *string `json:"userPhotoURL"`
	Text         string  `json:"text"`
	Rating       *int    `json:"rating"`
	Timestamp    int64   `json:"timestamp"`
}

// RecipeRepository persists the recipe aggregate: the top-level document plus
// its versions and comments sub-collections.
type RecipeRepository struct {
	store     docstore.Store
	batchSize int
}

// NewRecipeRepository creates a new recipe repository. batchSize bounds the
// scope ids sent in one "in" query; values outside 1..docstore.MaxInValues use
// the maximum.
func NewRecipeRepository(store docstore.Store, batchSize int) *RecipeRepository {
	if batchSize <= 0 || batchSize > docstore.MaxInValues {
		batchSize = docstore.MaxInValues
	}
	return &RecipeRepository{store: store, batchSize: batchSize}
}

func recipePath(id string) string {
	return docstore.Doc(recipesCollection, id)
}

func versionPath(recipeID string, number int) string {
	return docstore.Doc(recipesCollection, recipeID, versionsCollection, fmt.Sprintf("v%d", number))
}

func commentPath(recipeID string, number int, commentID string) string {
	return docstore.Doc(recipesCollection, recipeID, versionsCollection, fmt.Sprintf("v%d", number), commentsCollection, commentID)
}

func isNotFound(err error) bool {
	return errors.Is(err, docstore.ErrNotFound)
}

// GetByID loads a recipe with every version and comment
func (r *RecipeRepository) GetByID(ctx context.Context, id string) (*models.Recipe, error) {
	snap, err := r.store.Get(ctx, recipePath(id), docstore.FromServer())
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe %s: %w", id, err)
	}
	return r.load(ctx, snap)
}

func (r *RecipeRepository) load(ctx context.Context, snap *docstore.Snapshot) (*models.Recipe, error) {
	var doc recipeDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}

	versionSnaps, err := r.store.Query(ctx, docstore.Query{
		Parent:     snap.Path,
		Collection: versionsCollection,
		OrderBy:    "versionNumber",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", snap.ID, err)
	}

	versions := make([]models.RecipeVersion, len(versionSnaps))
	g, gctx := errgroup.WithContext(ctx)
	for i, vs := range versionSnaps {
		g.Go(func() error {
			v, err := r.loadVersion(gctx, vs)
			if err != nil {
				return err
			}
			versions[i] = *v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].VersionNumber < versions[j].VersionNumber
	})

	return &models.Recipe{
		ID:                  snap.ID,
		ScopeID:             doc.PartnershipID,
		Title:               doc.Title,
		ImageURL:            doc.ImageURL,
		AuthorID:            doc.AuthorID,
		AuthorName:          doc.AuthorName,
		CurrentVersionIndex: doc.CurrentVersionIndex,
		Versions:            versions,
		CreatedAt:           fromMillis(doc.CreatedAt),
		UpdatedAt:           fromMillis(doc.UpdatedAt),
	}, nil
}

func (r *RecipeRepository) loadVersion(ctx context.Context, snap *docstore.Snapshot) (*models.RecipeVersion, error) {
	var doc versionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}

	commentSnaps, err := r.store.Query(ctx, docstore.Query{
		Parent:     snap.Path,
		Collection: commentsCollection,
		OrderBy:    "timestamp",
		Desc:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list comments of %s: %w", snap.Path, err)
	}

	comments := make([]models.Comment, 0, len(commentSnaps))
	for _, cs := range commentSnaps {
		var c commentDoc
		if err := cs.DataTo(&c); err != nil {
			return nil, err
		}
		comment := models.Comment{
			ID:           cs.ID,
			UserID:       c.UserID,
			UserName:     c.UserName,
			UserPhotoURL: c.UserPhotoURL,
			Text:         c.Text,
			Timestamp:    fromMillis(c.Timestamp),
		}
		if c.Rating != nil {
			comment.Rating = *c.Rating
		}
		comments = append(comments, comment)
	}

	steps := doc.Steps
	if steps == nil {
		steps = []string{}
	}
	return &models.RecipeVersion{
		ID:            snap.ID,
		VersionNumber: doc.VersionNumber,
		Ingredients:   models.NormalizeIngredients(doc.Ingredients),
		Steps:         steps,
		Notes:         doc.Notes,
		CreatedAt:     fromMillis(doc.CreatedAt),
		Comments:      comments,
	}, nil
}

// ListForUser returns every recipe tagged with the current scope, a historical
// scope or the user's own id, newest update first. The scope ids are sharded
// into "in" queries of at most batchSize values which run concurrently; the
// merged result is sorted once so callers see a single ordering.
func (r *RecipeRepository) ListForUser(ctx context.Context, userID, currentScopeID string, historicalScopeIDs []string) ([]*models.Recipe, error) {
	scopes := uniqueScopes(currentScopeID, historicalScopeIDs, userID)

	var chunks [][]string
	for start := 0; start < len(scopes); start += r.batchSize {
		end := min(start+r.batchSize, len(scopes))
		chunks = append(chunks, scopes[start:end])
	}

	results := make([][]*docstore.Snapshot, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			snaps, err := r.store.Query(gctx, docstore.Query{
				Collection: recipesCollection,
				Filters:    []docstore.Filter{docstore.WhereIn(scopeField, chunk)},
				OrderBy:    "updatedAt",
				Desc:       true,
			})
			if err != nil {
				return fmt.Errorf("failed to list recipes: %w", err)
			}
			results[i] = snaps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var snaps []*docstore.Snapshot
	for _, chunk := range results {
		for _, s := range chunk {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			snaps = append(snaps, s)
		}
	}

	recipes := make([]*models.Recipe, len(snaps))
	lg, lctx := errgroup.WithContext(ctx)
	lg.SetLimit(loadConcurrency)
	for i, s := range snaps {
		lg.Go(func() error {
			recipe, err := r.load(lctx, s)
			if err != nil {
				return err
			}
			recipes[i] = recipe
			return nil
		})
	}
	if err := lg.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(recipes, func(i, j int) bool {
		if !recipes[i].UpdatedAt.Equal(recipes[j].UpdatedAt) {
			return recipes[i].UpdatedAt.After(recipes[j].UpdatedAt)
		}
		return recipes[i].ID < recipes[j].ID
	})
	return recipes, nil
}

func uniqueScopes(current string, historical []string, own string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(current)
	for _, id := range historical {
		add(id)
	}
	add(own)
	return out
}

// existingTree lists the version numbers and comment paths currently stored
// under a recipe.
func (r *RecipeRepository) existingTree(ctx context.Context, recipeID string) (map[int]string, []string, error) {
	versionSnaps, err := r.store.Query(ctx, docstore.Query{
		Parent:     recipePath(recipeID),
		Collection: versionsCollection,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list versions of %s: %w", recipeID, err)
	}

	versions := make(map[int]string, len(versionSnaps))
	var comments []string
	for _, vs := range versionSnaps {
		var doc versionDoc
		if err := vs.DataTo(&doc); err != nil {
			return nil, nil, err
		}
		versions[doc.VersionNumber] = vs.Path

		commentSnaps, err := r.store.Query(ctx, docstore.Query{
			Parent:     vs.Path,
			Collection: commentsCollection,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list comments of %s: %w", vs.Path, err)
		}
		for _, cs := range commentSnaps {
			comments = append(comments, cs.Path)
		}
	}
	return versions, comments, nil
}

// topFields is the stored top-level document of a recipe under scopeID
func topFields(recipe *models.Recipe, scopeID string) map[string]any {
	return map[string]any{
		scopeField:            scopeID,
		"title":               recipe.Title,
		"imageUrl":            recipe.ImageURL,
		"authorId":            recipe.AuthorID,
		"authorName":          recipe.AuthorName,
		"currentVersionIndex": recipe.CurrentVersionIndex,
		"updatedAt":           docstore.ServerTimestamp,
	}
}

// writeTree adds a Set for every version and comment of the aggregate
func writeTree(b *docstore.Batch, recipe *models.Recipe) {
	for _, v := range recipe.Versions {
		ingredients := v.Ingredients
		if ingredients == nil {
			ingredients = []models.Ingredient{}
		}
		steps := v.Steps
		if steps == nil {
			steps = []string{}
		}
		b.Set(versionPath(recipe.ID, v.VersionNumber), map[string]any{
			"versionNumber": v.VersionNumber,
			"ingredients":   ingredients,
			"steps":         steps,
			"notes":         v.Notes,
			"createdAt":     toMillis(v.CreatedAt),
		})
		for _, c := range v.Comments {
			var rating any
			if c.Rating != 0 {
				rating = c.Rating
			}
			b.Set(commentPath(recipe.ID, v.VersionNumber, c.ID), map[string]any{
				"userId":       c.UserID,
				"userName":     c.UserName,
				"userPhotoURL": c.UserPhotoURL,
				"text":         c.Text,
				"rating":       rating,
				"timestamp":    toMillis(c.Timestamp),
			})
		}
	}
}

// Create inserts a new recipe with its versions and comments under scopeID in
// one batch. It fails with docstore.ErrPreconditionFailed if the id is taken.
func (r *RecipeRepository) Create(ctx context.Context, recipe *models.Recipe, scopeID string) (*models.Recipe, error) {
	top := topFields(recipe, scopeID)
	top["createdAt"] = docstore.ServerTimestamp

	b := docstore.NewBatch().Set(recipePath(recipe.ID), top, docstore.NotExists())
	writeTree(b, recipe)

	if err := r.store.Commit(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create recipe %s: %w", recipe.ID, err)
	}
	return r.GetByID(ctx, recipe.ID)
}

// Save writes an existing aggregate in one batch: it updates the top-level
// document under scopeID, deletes every stored comment and every stored
// version missing from the aggregate, then rewrites all versions and comments.
// The batch requires the stored updatedAt to be unchanged since it was read,
// so two overlapping saves cannot interleave and a recipe deleted meanwhile
// is never written back. A recipe that no longer exists fails with
// docstore.ErrNotFound. It returns the aggregate as stored.
func (r *RecipeRepository) Save(ctx context.Context, recipe *models.Recipe, scopeID string) (*models.Recipe, error) {
	existing, err := r.store.Get(ctx, recipePath(recipe.ID), docstore.FromServer())
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe %s: %w", recipe.ID, err)
	}

	b := docstore.NewBatch().Update(recipePath(recipe.ID), topFields(recipe, scopeID),
		docstore.Match(map[string]any{"updatedAt": existing.Data["updatedAt"]}))

	versions, comments, err := r.existingTree(ctx, recipe.ID)
	if err != nil {
		return nil, err
	}
	for _, path := range comments {
		b.Delete(path)
	}
	keep := make(map[int]struct{}, len(recipe.Versions))
	for _, v := range recipe.Versions {
		keep[v.VersionNumber] = struct{}{}
	}
	for number, path := range versions {
		if _, ok := keep[number]; !ok {
			b.Delete(path)
		}
	}
	writeTree(b, recipe)

	if err := r.store.Commit(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to save recipe %s: %w", recipe.ID, err)
	}
	return r.GetByID(ctx, recipe.ID)
}

// Delete removes a recipe with every version and comment in one batch
func (r *RecipeRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.store.Get(ctx, recipePath(id), docstore.FromServer()); err != nil {
		return fmt.Errorf("failed to get recipe %s: %w", id, err)
	}
	versions, comments, err := r.existingTree(ctx, id)
	if err != nil {
		return err
	}

	b := docstore.NewBatch()
	for _, path := range comments {
		b.Delete(path)
	}
	for _, path := range versions {
		b.Delete(path)
	}
	b.Delete(recipePath(id), docstore.Exists())

	if err := r.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("failed to delete recipe %s: %w", id, err)
	}
	return nil
}
