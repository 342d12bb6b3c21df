package services

import (
	"context"
	"errors"
	"fmt"

	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/models"
	"couple-cook-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// RecipeService applies recipe domain rules for a signed-in user and
// persists the whole aggregate after every change.
//
// A new recipe is tagged with the author's partnership id while that
// partnership is active and with the author's own id otherwise. The tag never
// changes afterwards. A user may access a recipe whose tag is their current
// partnership, a past partnership or their own id; any other recipe is
// reported as not found.
type RecipeService struct {
	userRepo   *repository.UserRepository
	recipeRepo *repository.RecipeRepository
	notifier   Notifier
}

// NewRecipeService creates a new recipe service
func NewRecipeService(userRepo *repository.UserRepository, recipeRepo *repository.RecipeRepository, notifier Notifier) *RecipeService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &RecipeService{
		userRepo:   userRepo,
		recipeRepo: recipeRepo,
		notifier:   notifier,
	}
}

// CreateRecipeRequest represents a request to create a recipe
type CreateRecipeRequest struct {
	Title       string              `json:"title" validate:"required,max=200"`
	ImageURL    string              `json:"image_url" validate:"omitempty,max=2048"`
	Ingredients []models.Ingredient `json:"ingredients" validate:"required,min=1,dive"`
	Steps       []string            `json:"steps" validate:"required,min=1"`
	Notes       string              `json:"notes"`
}

// VersionRequest carries new content for edit-in-place or upgrade. Omitted
// fields keep the latest version's content.
type VersionRequest struct {
	Ingredients []models.Ingredient `json:"ingredients" validate:"omitempty,dive"`
	Steps       []string            `json:"steps"`
	Notes       *string             `json:"notes"`
	ImageURL    string              `json:"image_url" validate:"omitempty,max=2048"`
}

// draft merges the request over base
func (req VersionRequest) draft(base models.Draft) models.Draft {
	d := base
	if req.Ingredients != nil {
		d.Ingredients = req.Ingredients
	}
	if req.Steps != nil {
		d.Steps = req.Steps
	}
	if req.Notes != nil {
		d.Notes = *req.Notes
	}
	return d
}

// CommentRequest represents a request to add or edit a comment. Rating 0 on
// edit keeps the current rating.
type CommentRequest struct {
	Text   string `json:"text" validate:"required,max=2000"`
	Rating int    `json:"rating" validate:"min=0,max=5"`
}

func (s *RecipeService) user(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID, true)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}
	return user, nil
}

// load returns the caller and a recipe they may access
func (s *RecipeService) load(ctx context.Context, userID, recipeID string) (*models.User, *models.Recipe, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	recipe, err := s.recipeRepo.GetByID(ctx, recipeID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil, fmt.Errorf("recipe %s: %w", recipeID, ErrNotFound)
		}
		return nil, nil, err
	}
	if !user.CanSee(recipe.ScopeID) {
		return nil, nil, fmt.Errorf("recipe %s: %w", recipeID, ErrNotFound)
	}
	return user, recipe, nil
}

// save persists the aggregate under its scope and tells the partner
func (s *RecipeService) save(ctx context.Context, op string, user *models.User, recipe *models.Recipe, scopeID string) (*models.Recipe, error) {
	var saved *models.Recipe
	var err error
	if op == "create" {
		saved, err = s.recipeRepo.Create(ctx, recipe, scopeID)
	} else {
		saved, err = s.recipeRepo.Save(ctx, recipe, scopeID)
	}
	recipeWrites.WithLabelValues(op, outcome(err)).Inc()
	if err != nil {
		if s.deletedMeanwhile(ctx, recipe.ID, err) {
			log.Info().Str("recipe_id", recipe.ID).Str("op", op).Msg("Recipe deleted before save")
			return nil, fmt.Errorf("recipe %s: %w", recipe.ID, ErrNotFound)
		}
		log.Error().Err(err).Str("recipe_id", recipe.ID).Str("op", op).Msg("Failed to save recipe")
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	log.Info().
		Str("user_id", user.ID).
		Str("recipe_id", saved.ID).
		Str("scope_id", scopeID).
		Str("op", op).
		Msg("Recipe saved")

	s.notifyPartner(ctx, user, saved.ScopeID, saved.ID)
	return saved, nil
}

// deletedMeanwhile reports whether a failed save lost to a delete of the recipe
func (s *RecipeService) deletedMeanwhile(ctx context.Context, recipeID string, err error) bool {
	if errors.Is(err, docstore.ErrNotFound) {
		return true
	}
	if !errors.Is(err, docstore.ErrPreconditionFailed) {
		return false
	}
	_, getErr := s.recipeRepo.GetByID(ctx, recipeID)
	return errors.Is(getErr, docstore.ErrNotFound)
}

// notifyPartner tells the active partner about a change to a recipe they share
func (s *RecipeService) notifyPartner(ctx context.Context, user *models.User, scopeID, recipeID string) {
	if !user.HasPartner() || *user.PartnershipID != scopeID {
		return
	}
	s.notifier.Notify(ctx, *user.PartnerID, Event{
		Type:          EventRecipeChanged,
		ActorID:       user.ID,
		PartnershipID: scopeID,
		RecipeID:      recipeID,
	})
}

// refreshAuthor re-snapshots the author's label when the author edits
func refreshAuthor(recipe *models.Recipe, user *models.User) {
	if recipe.AuthorID == user.ID {
		recipe.AuthorName = user.Label()
	}
}

// Create builds version 1 of a new recipe and saves it under the author's
// current scope
func (s *RecipeService) Create(ctx context.Context, userID string, req CreateRecipeRequest) (*models.Recipe, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	recipe, err := models.NewRecipe(user, req.Title, req.ImageURL, models.Draft{
		Ingredients: req.Ingredients,
		Steps:       req.Steps,
		Notes:       req.Notes,
	})
	if err != nil {
		return nil, err
	}
	return s.save(ctx, "create", user, recipe, user.RecipeScope())
}

// Get returns one recipe
func (s *RecipeService) Get(ctx context.Context, userID, recipeID string) (*models.Recipe, error) {
	_, recipe, err := s.load(ctx, userID, recipeID)
	return recipe, err
}

// List returns every recipe visible to the user, newest update first
func (s *RecipeService) List(ctx context.Context, userID string) ([]*models.Recipe, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	current := ""
	if user.PartnershipID != nil {
		current = *user.PartnershipID
	}
	recipes, err := s.recipeRepo.ListForUser(ctx, user.ID, current, user.PastPartnershipIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	return recipes, nil
}

// EditLatest overwrites the latest version in place
func (s *RecipeService) EditLatest(ctx context.Context, userID, recipeID string, req VersionRequest) (*models.Recipe, error) {
	user, recipe, err := s.load(ctx, userID, recipeID)
	if err != nil {
		return nil, err
	}
	if err := recipe.EditLatest(req.draft(recipe.Seed()), req.ImageURL); err != nil {
		return nil, err
	}
	refreshAuthor(recipe, user)
	return s.save(ctx, "edit", user, recipe, recipe.ScopeID)
}

// Upgrade appends a new version seeded from the latest one
func (s *RecipeService) Upgrade(ctx context.Context, userID, recipeID string, req VersionRequest) (*models.Recipe, error) {
	user, recipe, err := s.load(ctx, userID, recipeID)
	if err != nil {
		return nil, err
	}
	if _, err := recipe.Upgrade(req.draft(recipe.Seed()), req.ImageURL); err != nil {
		return nil, err
	}
	refreshAuthor(recipe, user)
	return s.save(ctx, "upgrade", user, recipe, recipe.ScopeID)
}

// AddComment adds the user's comment to a version
func (s *RecipeService) AddComment(ctx context.Context, userID, recipeID string, version int, req CommentRequest) (*models.Recipe, error) {
	user, recipe, err := s.load(ctx, userID, recipeID)
	if err != nil {
		return nil, err
	}
	if _, err := recipe.AddComment(version, user, req.Text, req.Rating); err != nil {
		return nil, err
	}
	return s.save(ctx, "comment_add", user, recipe, recipe.ScopeID)
}

// EditComment changes one of the user's comments
func (s *RecipeService) EditComment(ctx context.Context, userID, recipeID string, version int, commentID string, req CommentRequest) (*models.Recipe, error) {
	user, recipe, err := s.load(ctx, userID, recipeID)
	if err != nil {
		return nil, err
	}
	if _, err := recipe.EditComment(version, commentID, user.ID, req.Text, req.Rating); err != nil {
		return nil, err
	}
	return s.save(ctx, "comment_edit", user, recipe, recipe.ScopeID)
}

// DeleteComment removes one of the user's comments
func (s *RecipeService) DeleteComment(ctx context.Context, userID, recipeID string, version int, commentID string) (*models.Recipe, error) {
	user, recipe, err := s.load(ctx, userID, recipeID)
	if err != nil {
		return nil, err
	}
	if err := recipe.DeleteComment(version, commentID, user.ID); err != nil {
		return nil, err
	}
	return s.save(ctx, "comment_delete", user, recipe, recipe.ScopeID)
}

// Delete removes a recipe with all of its versions and comments
func (s *RecipeService) Delete(ctx context.Context, userID, recipeID string) error {
	user, recipe, err := s.load(ctx, userID, recipeID)
	if err != nil {
		return err
	}

	err = s.recipeRepo.Delete(ctx, recipe.ID)
	recipeWrites.WithLabelValues("delete", outcome(err)).Inc()
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrPreconditionFailed) {
			return fmt.Errorf("recipe %s: %w", recipeID, ErrNotFound)
		}
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	log.Info().Str("user_id", user.ID).Str("recipe_id", recipe.ID).Msg("Recipe deleted")
	s.notifyPartner(ctx, user, recipe.ScopeID, recipe.ID)
	return nil
}
