package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/identity"
	"couple-cook-backend/internal/models"
	"couple-cook-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	jwtExpDays        = 365
	maxNicknameLength = 20
)

// UserService handles user-related business logic
type UserService struct {
	userRepo  *repository.UserRepository
	jwtSecret string
}

// NewUserService creates a new user service
func NewUserService(userRepo *repository.UserRepository, jwtSecret string) *UserService {
	return &UserService{
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
	}
}

// GenerateJWT generates a session token for a user
func (s *UserService) GenerateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().AddDate(0, 0, jwtExpDays).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a session token and returns the user ID
func (s *UserService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user_id not found in token")
	}

	return userID, nil
}

// SignIn creates the user on first sign-in with no partnership linkage, or
// records the login of a returning user. It returns the user and a session
// token.
func (s *UserService) SignIn(ctx context.Context, id *identity.Identity) (*models.User, string, error) {
	user, err := s.userRepo.GetByID(ctx, id.ExternalID, true)
	switch {
	case err == nil:
		if err := s.userRepo.TouchLogin(ctx, user.ID); err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
	case errors.Is(err, docstore.ErrNotFound):
		newUser := &models.User{
			ID:          id.ExternalID,
			DisplayName: id.DisplayName,
			Email:       id.Email,
		}
		if id.PhotoURL != "" {
			newUser.PhotoURL = &id.PhotoURL
		}
		err := s.userRepo.Create(ctx, newUser)
		switch {
		case err == nil:
			log.Info().Str("user_id", newUser.ID).Msg("User created")
		case errors.Is(err, docstore.ErrPreconditionFailed):
			// A concurrent sign-in created the account first; keep its document.
			log.Info().Str("user_id", newUser.ID).Msg("User already created")
		default:
			return nil, "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
	default:
		return nil, "", fmt.Errorf("failed to load user: %w", err)
	}

	user, err = s.userRepo.GetByID(ctx, id.ExternalID, true)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load user: %w", err)
	}

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}
	return user, token, nil
}

// GetUser returns a user. fresh bypasses any read cache.
func (s *UserService) GetUser(ctx context.Context, userID string, fresh bool) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID, fresh)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}
	return user, nil
}

// ProfileUpdate changes the fields a user may edit. Nil leaves a field as it
// is; an empty string clears the override.
type ProfileUpdate struct {
	Nickname       *string `json:"nickname" validate:"omitempty,max=80"`
	CustomPhotoURL *string `json:"custom_photo_url" validate:"omitempty,max=2048"`
}

// UpdateProfile applies a profile update and returns the stored user
func (s *UserService) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*models.User, error) {
	user, err := s.GetUser(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	nickname := user.Nickname
	if update.Nickname != nil {
		trimmed := strings.TrimSpace(*update.Nickname)
		switch n := utf8.RuneCountInString(trimmed); {
		case n == 0:
			nickname = nil
		case n > maxNicknameLength:
			return nil, ErrInvalidNickname
		default:
			nickname = &trimmed
		}
	}

	photo := user.CustomPhotoURL
	if update.CustomPhotoURL != nil {
		if trimmed := strings.TrimSpace(*update.CustomPhotoURL); trimmed == "" {
			photo = nil
		} else {
			photo = &trimmed
		}
	}

	if err := s.userRepo.UpdateProfile(ctx, userID, nickname, photo); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	log.Info().Str("user_id", userID).Msg("Profile updated")

	return s.GetUser(ctx, userID, true)
}

// UpdatePushToken stores the device token used for push notifications. An
// empty token removes it.
func (s *UserService) UpdatePushToken(ctx context.Context, userID, pushToken string) error {
	var tok *string
	if pushToken != "" {
		tok = &pushToken
	}
	if err := s.userRepo.UpdatePushToken(ctx, userID, tok); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}
