package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"couple-cook-backend/internal/docstore"
	"couple-cook-backend/internal/models"
	"couple-cook-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	inviteCodeLength         = 6
	defaultInviteMaxAttempts = 10
	inviteCodeMin            = 100000
	inviteCodeSpan           = 900000
)

// CodeGenerator returns a candidate invite code
type CodeGenerator func() (string, error)

// GenerateInviteCode returns a uniformly random six-digit code
func GenerateInviteCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(inviteCodeSpan))
	if err != nil {
		return "", fmt.Errorf("failed to generate invite code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+inviteCodeMin), nil
}

// PartnershipService links two users through an invite code and dissolves
// the link when either leaves
type PartnershipService struct {
	userRepo        *repository.UserRepository
	partnershipRepo *repository.PartnershipRepository
	notifier        Notifier
	generateCode    CodeGenerator
	maxAttempts     int
	inflight        singleflight.Group
}

// NewPartnershipService creates a new partnership service. maxAttempts bounds
// invite code generation; zero uses the default.
func NewPartnershipService(
	userRepo *repository.UserRepository,
	partnershipRepo *repository.PartnershipRepository,
	notifier Notifier,
	maxAttempts int,
) *PartnershipService {
	if maxAttempts <= 0 {
		maxAttempts = defaultInviteMaxAttempts
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &PartnershipService{
		userRepo:        userRepo,
		partnershipRepo: partnershipRepo,
		notifier:        notifier,
		generateCode:    GenerateInviteCode,
		maxAttempts:     maxAttempts,
	}
}

// SetCodeGenerator replaces the invite code source
func (s *PartnershipService) SetCodeGenerator(gen CodeGenerator) {
	s.generateCode = gen
}

// freshUser reads a user from the authoritative store
func (s *PartnershipService) freshUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID, true)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}
	return user, nil
}

// CreateInvite opens a pending partnership for a user without one and
// returns its invite code. Duplicate concurrent calls by the same user share
// one result.
func (s *PartnershipService) CreateInvite(ctx context.Context, userID string) (string, error) {
	v, err, _ := s.inflight.Do("invite:"+userID, func() (interface{}, error) {
		return s.createInvite(ctx, userID)
	})
	partnershipEvents.WithLabelValues("invite_created", outcome(err)).Inc()
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *PartnershipService) createInvite(ctx context.Context, userID string) (string, error) {
	user, err := s.freshUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.PartnershipID != nil {
		return "", ErrAlreadyPartnered
	}

	code, err := s.allocateCode(ctx)
	if err != nil {
		return "", err
	}

	partnership := &models.Partnership{
		ID:         uuid.New().String(),
		Members:    [2]string{userID, ""},
		InviteCode: code,
		CreatedBy:  userID,
		Status:     models.PartnershipPending,
	}
	if err := s.partnershipRepo.CreatePending(ctx, partnership); err != nil {
		if errors.Is(err, docstore.ErrPreconditionFailed) {
			return "", ErrAlreadyPartnered
		}
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	log.Info().
		Str("user_id", userID).
		Str("partnership_id", partnership.ID).
		Msg("Invite created")

	return code, nil
}

// allocateCode draws codes until one is not held by a pending partnership
func (s *PartnershipService) allocateCode(ctx context.Context) (string, error) {
	for i := 0; i < s.maxAttempts; i++ {
		code, err := s.generateCode()
		if err != nil {
			return "", err
		}
		inUse, err := s.partnershipRepo.CodeInUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check invite code: %w", err)
		}
		if !inUse {
			return code, nil
		}
		log.Debug().Int("attempt", i+1).Msg("Invite code collision")
	}
	return "", fmt.Errorf("%w after %d attempts", ErrInviteCodeExhausted, s.maxAttempts)
}

// JoinByCode redeems an invite code, activating the partnership
func (s *PartnershipService) JoinByCode(ctx context.Context, userID, code string) (*models.Partnership, error) {
	partnership, err := s.joinByCode(ctx, userID, code)
	partnershipEvents.WithLabelValues("joined", outcome(err)).Inc()
	return partnership, err
}

func (s *PartnershipService) joinByCode(ctx context.Context, userID, code string) (*models.Partnership, error) {
	code = strings.TrimSpace(code)
	if len(code) != inviteCodeLength {
		return nil, ErrInvalidCode
	}

	user, err := s.freshUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	partnership, err := s.partnershipRepo.GetPendingByCode(ctx, code)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	if partnership.HasMember(userID) {
		return nil, ErrSelfInvite
	}
	if user.PartnershipID != nil {
		return nil, ErrAlreadyPartnered
	}

	if err := s.partnershipRepo.Activate(ctx, partnership, userID); err != nil {
		if !errors.Is(err, docstore.ErrPreconditionFailed) && !errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		// Someone else changed either side first; report what changed.
		if again, rerr := s.freshUser(ctx, userID); rerr == nil && again.PartnershipID != nil {
			return nil, ErrAlreadyPartnered
		}
		return nil, ErrInvalidCode
	}

	creatorID := partnership.Members[0]
	log.Info().
		Str("user_id", userID).
		Str("partner_id", creatorID).
		Str("partnership_id", partnership.ID).
		Msg("Partnership activated")

	s.notifier.Notify(ctx, creatorID, Event{
		Type:          EventPartnershipJoined,
		ActorID:       userID,
		PartnershipID: partnership.ID,
	})

	activated, err := s.partnershipRepo.GetByID(ctx, partnership.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload partnership: %w", err)
	}
	return activated, nil
}

// Leave dissolves a partnership the user belongs to, or cancels their
// pending invite. Leaving a partnership that no longer exists succeeds.
func (s *PartnershipService) Leave(ctx context.Context, userID, partnershipID string) error {
	_, err, _ := s.inflight.Do("leave:"+userID+":"+partnershipID, func() (interface{}, error) {
		return nil, s.leave(ctx, userID, partnershipID)
	})
	partnershipEvents.WithLabelValues("left", outcome(err)).Inc()
	return err
}

// leaveAttempts bounds how often leave re-reads a partnership that changed
// under it, such as a join landing while an invite is cancelled
const leaveAttempts = 2

func (s *PartnershipService) leave(ctx context.Context, userID, partnershipID string) error {
	var lastErr error
	for attempt := 0; attempt < leaveAttempts; attempt++ {
		partnership, err := s.partnershipRepo.GetByID(ctx, partnershipID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return s.unlinkFromDissolved(ctx, userID, partnershipID)
			}
			return err
		}
		if !partnership.HasMember(userID) {
			return ErrNotMember
		}

		members, err := s.linkedMembers(ctx, partnership)
		if err != nil {
			return err
		}

		err = s.partnershipRepo.Dissolve(ctx, partnership, members)
		if err == nil {
			log.Info().
				Str("user_id", userID).
				Str("partnership_id", partnership.ID).
				Str("status", string(partnership.Status)).
				Msg("Partnership dissolved")

			if peer := partnership.Peer(userID); peer != "" {
				s.notifier.Notify(ctx, peer, Event{
					Type:          EventPartnershipLeft,
					ActorID:       userID,
					PartnershipID: partnership.ID,
				})
			}
			return nil
		}
		if !errors.Is(err, docstore.ErrPreconditionFailed) {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		log.Warn().
			Err(err).
			Str("user_id", userID).
			Str("partnership_id", partnershipID).
			Msg("Partnership changed while leaving, retrying")
		lastErr = err
	}

	if _, err := s.partnershipRepo.GetByID(ctx, partnershipID); errors.Is(err, docstore.ErrNotFound) {
		return s.unlinkFromDissolved(ctx, userID, partnershipID)
	}
	return fmt.Errorf("%w: %w", ErrWriteFailed, lastErr)
}

// linkedMembers returns the members still linked to the partnership. A
// member whose account is gone or already moved on is left alone.
func (s *PartnershipService) linkedMembers(ctx context.Context, partnership *models.Partnership) ([]string, error) {
	var members []string
	for _, id := range partnership.Members {
		if id == "" {
			continue
		}
		member, err := s.userRepo.GetByID(ctx, id, true)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if member.PartnershipID == nil || *member.PartnershipID != partnership.ID {
			log.Warn().
				Str("user_id", id).
				Str("partnership_id", partnership.ID).
				Msg("Member no longer linked to partnership")
			continue
		}
		members = append(members, id)
	}
	return members, nil
}

// unlinkFromDissolved clears a caller still pointing at a partnership that no
// longer exists
func (s *PartnershipService) unlinkFromDissolved(ctx context.Context, userID, partnershipID string) error {
	user, err := s.freshUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if user == nil || user.PartnershipID == nil || *user.PartnershipID != partnershipID {
		log.Info().
			Str("user_id", userID).
			Str("partnership_id", partnershipID).
			Msg("Partnership already dissolved")
		return nil
	}
	if err := s.userRepo.ClearPartnership(ctx, userID, partnershipID, user.PartnerID != nil); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	log.Warn().
		Str("user_id", userID).
		Str("partnership_id", partnershipID).
		Msg("Cleared link to dissolved partnership")
	return nil
}

// GetPartner returns the public profile of a partner, or nil when the
// account cannot be found
func (s *PartnershipService) GetPartner(ctx context.Context, partnerID string) (*models.Profile, error) {
	if partnerID == "" {
		return nil, nil
	}
	partner, err := s.userRepo.GetByID(ctx, partnerID, false)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}
	return partner.Profile(), nil
}

// GetPartnership returns the user's current partnership
func (s *PartnershipService) GetPartnership(ctx context.Context, userID string) (*models.Partnership, error) {
	user, err := s.freshUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.PartnershipID == nil {
		return nil, fmt.Errorf("user %s has no partnership: %w", userID, ErrNotFound)
	}
	partnership, err := s.partnershipRepo.GetByID(ctx, *user.PartnershipID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("partnership %s: %w", *user.PartnershipID, ErrNotFound)
		}
		return nil, err
	}
	return partnership, nil
}
