package handlers

import (
	"net/http"
	"strconv"

	"couple-cook-backend/internal/middleware"
	"couple-cook-backend/internal/models"
	"couple-cook-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// RecipeHandler handles recipe-related HTTP requests
type RecipeHandler struct {
	recipeService *services.RecipeService
}

// NewRecipeHandler creates a new recipe handler
func NewRecipeHandler(recipeService *services.RecipeService) *RecipeHandler {
	return &RecipeHandler{
		recipeService: recipeService,
	}
}

// RecipesResponse represents the recipe list response
type RecipesResponse struct {
	Recipes []*models.Recipe `json:"recipes"`
	Total   int              `json:"total"`
}

// versionParam parses {version}, writing a 400 when it is not a positive number
func versionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		respondError(w, "version must be a positive number", http.StatusBadRequest, "invalid_request")
		return 0, false
	}
	return version, true
}

// ListRecipes handles GET /api/v1/recipes
func (h *RecipeHandler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recipes, err := h.recipeService.List(ctx, middleware.GetUserID(ctx))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if recipes == nil {
		recipes = []*models.Recipe{}
	}
	respondJSON(w, http.StatusOK, RecipesResponse{Recipes: recipes, Total: len(recipes)})
}

// CreateRecipe handles POST /api/v1/recipes
func (h *RecipeHandler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.CreateRecipeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	recipe, err := h.recipeService.Create(ctx, middleware.GetUserID(ctx), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, recipe)
}

// GetRecipe handles GET /api/v1/recipes/{recipe_id}
func (h *RecipeHandler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recipe, err := h.recipeService.Get(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "recipe_id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recipe)
}

// DeleteRecipe handles DELETE /api/v1/recipes/{recipe_id}
func (h *RecipeHandler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.recipeService.Delete(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "recipe_id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EditLatest handles PUT /api/v1/recipes/{recipe_id}/versions/latest
func (h *RecipeHandler) EditLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.VersionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	recipe, err := h.recipeService.EditLatest(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "recipe_id"), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recipe)
}

// Upgrade handles POST /api/v1/recipes/{recipe_id}/versions
func (h *RecipeHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.VersionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	recipe, err := h.recipeService.Upgrade(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "recipe_id"), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, recipe)
}

// AddComment handles POST /api/v1/recipes/{recipe_id}/versions/{version}/comments
func (h *RecipeHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	var req services.CommentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	recipe, err := h.recipeService.AddComment(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "recipe_id"), version, req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, recipe)
}

// EditComment handles PATCH /api/v1/recipes/{recipe_id}/versions/{version}/comments/{comment_id}
func (h *RecipeHandler) EditComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	var req services.CommentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	recipe, err := h.recipeService.EditComment(ctx, middleware.GetUserID(ctx),
		chi.URLParam(r, "recipe_id"), version, chi.URLParam(r, "comment_id"), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recipe)
}

// DeleteComment handles DELETE /api/v1/recipes/{recipe_id}/versions/{version}/comments/{comment_id}
func (h *RecipeHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, ok := versionParam(w, r)
	if !ok {
		return
	}

	recipe, err := h.recipeService.DeleteComment(ctx, middleware.GetUserID(ctx),
		chi.URLParam(r, "recipe_id"), version, chi.URLParam(r, "comment_id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recipe)
}
