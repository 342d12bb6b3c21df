package models

import (
	"strings"
	"time"
)

// User represents a signed-in account and its partnership linkage
type User struct {
	ID                 string    `json:"id"`
	DisplayName        string    `json:"display_name"`
	Nickname           *string   `json:"nickname,omitempty"`
	Email              string    `json:"email"`
	PhotoURL           *string   `json:"photo_url,omitempty"`
	CustomPhotoURL     *string   `json:"custom_photo_url,omitempty"`
	PartnerID          *string   `json:"partner_id"`
	PartnershipID      *string   `json:"partnership_id"`
	PastPartnershipIDs []string  `json:"past_partnership_ids"`
	PushToken          *string   `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	LastLoginAt        time.Time `json:"last_login_at"`
}

// Label returns the name shown to other users.
func (u *User) Label() string {
	if u.Nickname != nil && strings.TrimSpace(*u.Nickname) != "" {
		return *u.Nickname
	}
	return u.DisplayName
}

// Photo returns the avatar shown to other users.
func (u *User) Photo() *string {
	if u.CustomPhotoURL != nil && *u.CustomPhotoURL != "" {
		return u.CustomPhotoURL
	}
	return u.PhotoURL
}

// HasPartner reports whether the user is a member of an active partnership.
func (u *User) HasPartner() bool {
	return u.PartnerID != nil && u.PartnershipID != nil
}

// RecipeScope is the scope id stamped on recipes the user creates now.
// Recipes are shared only once the partnership is active; while an invite is
// still pending they stay personal.
func (u *User) RecipeScope() string {
	if u.HasPartner() {
		return *u.PartnershipID
	}
	return u.ID
}

// VisibleScopes lists every scope id whose recipes the user may see: the
// current partnership, every past one and the user's own id.
func (u *User) VisibleScopes() []string {
	seen := make(map[string]struct{})
	var scopes []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		scopes = append(scopes, id)
	}
	if u.PartnershipID != nil {
		add(*u.PartnershipID)
	}
	for _, id := range u.PastPartnershipIDs {
		add(id)
	}
	add(u.ID)
	return scopes
}

// CanSee reports whether a recipe tagged with scopeID is visible to the user.
func (u *User) CanSee(scopeID string) bool {
	for _, s := range u.VisibleScopes() {
		if s == scopeID {
			return true
		}
	}
	return false
}

// Profile is the public projection of a user.
type Profile struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	PhotoURL *string `json:"photo_url,omitempty"`
}

// Profile returns the public projection of the user.
func (u *User) Profile() *Profile {
	return &Profile{ID: u.ID, Name: u.Label(), PhotoURL: u.Photo()}
}

// PartnershipStatus is the lifecycle state of a partnership
type PartnershipStatus string

const (
	PartnershipPending PartnershipStatus = "pending"
	PartnershipActive  PartnershipStatus = "active"
)

// Partnership links two users. Members[0] is always the creator; Members[1]
// is empty until someone joins.
type Partnership struct {
	ID         string            `json:"id"`
	Members    [2]string         `json:"members"`
	InviteCode string            `json:"invite_code,omitempty"`
	CreatedBy  string            `json:"created_by"`
	Status     PartnershipStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
}

// HasMember reports whether userID occupies either slot.
func (p *Partnership) HasMember(userID string) bool {
	return userID != "" && (p.Members[0] == userID || p.Members[1] == userID)
}

// Peer returns the other member, or "" when the slot is still empty.
func (p *Partnership) Peer(userID string) string {
	switch userID {
	case p.Members[0]:
		return p.Members[1]
	case p.Members[1]:
		return p.Members[0]
	}
	return ""
}

// Ingredient is the current ingredient shape.
type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
}

// Comment is feedback left on one recipe version
type Comment struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	UserPhotoURL *string   `json:"user_photo_url,omitempty"`
	Text         string    `json:"text"`
	Rating       int       `json:"rating"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecipeVersion is one numbered revision of a recipe
type RecipeVersion struct {
	ID            string       `json:"id"`
	VersionNumber int          `json:"version_number"`
	Ingredients   []Ingredient `json:"ingredients"`
	Steps         []string     `json:"steps"`
	Notes         string       `json:"notes"`
	CreatedAt     time.Time    `json:"created_at"`
	Comments      []Comment    `json:"comments"`
}

// Recipe is the aggregate root for versions and their comments
type Recipe struct {
	ID                  string          `json:"id"`
	ScopeID             string          `json:"scope_id"`
	Title               string          `json:"title"`
	ImageURL            string          `json:"image_url"`
	AuthorID            string          `json:"author_id"`
	AuthorName          string          `json:"author_name"`
	CurrentVersionIndex int             `json:"current_version_index"`
	Versions            []RecipeVersion `json:"versions"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
