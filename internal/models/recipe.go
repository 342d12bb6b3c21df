package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	MinRating = 1
	MaxRating = 5
)

var (
	ErrTitleRequired       = errors.New("title is required")
	ErrIngredientsRequired = errors.New("at least one ingredient is required")
	ErrStepsRequired       = errors.New("at least one step is required")
	ErrCommentTextRequired = errors.New("comment text is required")
	ErrInvalidRating       = errors.New("rating must be between 1 and 5")
	ErrVersionNotFound     = errors.New("version not found")
	ErrCommentNotFound     = errors.New("comment not found")
	ErrNotCommentAuthor    = errors.New("only the author can change this comment")
)

// Draft is the editable content of a version.
type Draft struct {
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []string     `json:"steps"`
	Notes       string       `json:"notes"`
}

// clean drops blank ingredients and steps and validates what is left.
func (d Draft) clean() (Draft, error) {
	var out Draft
	for _, ing := range d.Ingredients {
		ing.Name = strings.TrimSpace(ing.Name)
		if ing.Name == "" {
			continue
		}
		ing.Quantity = strings.TrimSpace(ing.Quantity)
		ing.Unit = strings.TrimSpace(ing.Unit)
		out.Ingredients = append(out.Ingredients, ing)
	}
	for _, step := range d.Steps {
		if strings.TrimSpace(step) == "" {
			continue
		}
		out.Steps = append(out.Steps, step)
	}
	out.Notes = d.Notes

	if len(out.Ingredients) == 0 {
		return Draft{}, ErrIngredientsRequired
	}
	if len(out.Steps) == 0 {
		return Draft{}, ErrStepsRequired
	}
	return out, nil
}

func versionID(n int) string {
	return fmt.Sprintf("v%d", n)
}

// NewRecipe builds a recipe with version 1. The scope id is assigned when the
// recipe is first saved.
func NewRecipe(author *User, title, imageURL string, draft Draft) (*Recipe, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	content, err := draft.clean()
	if err != nil {
		return nil, err
	}

	return &Recipe{
		ID:         uuid.New().String(),
		Title:      title,
		ImageURL:   imageURL,
		AuthorID:   author.ID,
		AuthorName: author.Label(),
		Versions: []RecipeVersion{{
			ID:            versionID(1),
			VersionNumber: 1,
			Ingredients:   content.Ingredients,
			Steps:         content.Steps,
			Notes:         content.Notes,
			Comments:      []Comment{},
		}},
		CurrentVersionIndex: 0,
	}, nil
}

// Latest returns the newest version.
func (r *Recipe) Latest() *RecipeVersion {
	if len(r.Versions) == 0 {
		return nil
	}
	return &r.Versions[len(r.Versions)-1]
}

// Version returns the version with the given number.
func (r *Recipe) Version(number int) (*RecipeVersion, error) {
	for i := range r.Versions {
		if r.Versions[i].VersionNumber == number {
			return &r.Versions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: v%d", ErrVersionNotFound, number)
}

func (r *Recipe) maxVersionNumber() int {
	max := 0
	for _, v := range r.Versions {
		if v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max
}

// Seed returns a copy of the latest content to start an upgrade from.
func (r *Recipe) Seed() Draft {
	latest := r.Latest()
	if latest == nil {
		return Draft{}
	}
	return Draft{
		Ingredients: append([]Ingredient(nil), latest.Ingredients...),
		Steps:       append([]string(nil), latest.Steps...),
		Notes:       latest.Notes,
	}
}

// EditLatest overwrites the latest version's content in place. Its number,
// creation time and comments are kept.
func (r *Recipe) EditLatest(draft Draft, imageURL string) error {
	latest := r.Latest()
	if latest == nil {
		return ErrVersionNotFound
	}
	content, err := draft.clean()
	if err != nil {
		return err
	}
	latest.Ingredients = content.Ingredients
	latest.Steps = content.Steps
	latest.Notes = content.Notes
	if imageURL != "" {
		r.ImageURL = imageURL
	}
	return nil
}

// Upgrade appends a new version numbered one past the highest so far and makes
// it current. Comments are not carried over.
func (r *Recipe) Upgrade(draft Draft, imageURL string) (*RecipeVersion, error) {
	content, err := draft.clean()
	if err != nil {
		return nil, err
	}
	n := r.maxVersionNumber() + 1
	r.Versions = append(r.Versions, RecipeVersion{
		ID:            versionID(n),
		VersionNumber: n,
		Ingredients:   content.Ingredients,
		Steps:         content.Steps,
		Notes:         content.Notes,
		Comments:      []Comment{},
	})
	r.CurrentVersionIndex = len(r.Versions) - 1
	if imageURL != "" {
		r.ImageURL = imageURL
	}
	return r.Latest(), nil
}

func validateComment(text string, rating int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrCommentTextRequired
	}
	if rating < MinRating || rating > MaxRating {
		return "", ErrInvalidRating
	}
	return text, nil
}

// AddComment prepends a comment to a version, snapshotting the author's
// current name and photo.
func (r *Recipe) AddComment(versionNumber int, author *User, text string, rating int) (*Comment, error) {
	v, err := r.Version(versionNumber)
	if err != nil {
		return nil, err
	}
	text, err = validateComment(text, rating)
	if err != nil {
		return nil, err
	}

	c := Comment{
		ID:           uuid.New().String(),
		UserID:       author.ID,
		UserName:     author.Label(),
		UserPhotoURL: author.Photo(),
		Text:         text,
		Rating:       rating,
	}
	v.Comments = append([]Comment{c}, v.Comments...)
	return &v.Comments[0], nil
}

func (r *Recipe) findComment(versionNumber int, commentID, actorID string) (*RecipeVersion, int, error) {
	v, err := r.Version(versionNumber)
	if err != nil {
		return nil, 0, err
	}
	for i := range v.Comments {
		if v.Comments[i].ID != commentID {
			continue
		}
		if v.Comments[i].UserID != actorID {
			return nil, 0, ErrNotCommentAuthor
		}
		return v, i, nil
	}
	return nil, 0, ErrCommentNotFound
}

// EditComment replaces a comment's text and, when rating is non-zero, its
// rating. Only the comment's author may edit it.
func (r *Recipe) EditComment(versionNumber int, commentID, actorID, text string, rating int) (*Comment, error) {
	v, i, err := r.findComment(versionNumber, commentID, actorID)
	if err != nil {
		return nil, err
	}
	if rating == 0 {
		rating = v.Comments[i].Rating
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrCommentTextRequired
	}
	// Legacy comments may carry no rating at all.
	if rating != 0 && (rating < MinRating || rating > MaxRating) {
		return nil, ErrInvalidRating
	}
	v.Comments[i].Text = text
	v.Comments[i].Rating = rating
	return &v.Comments[i], nil
}

// DeleteComment removes a comment. Only the comment's author may delete it.
func (r *Recipe) DeleteComment(versionNumber int, commentID, actorID string) error {
	v, i, err := r.findComment(versionNumber, commentID, actorID)
	if err != nil {
		return err
	}
	v.Comments = append(v.Comments[:i:i], v.Comments[i+1:]...)
	return nil
}
