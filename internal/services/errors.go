package services

import "errors"

var (
	// ErrAlreadyPartnered means the caller already has a pending or active partnership.
	ErrAlreadyPartnered = errors.New("already partnered")
	// ErrInvalidCode means no pending partnership holds the invite code.
	ErrInvalidCode = errors.New("invalid invite code")
	// ErrSelfInvite means the caller tried to redeem their own invite code.
	ErrSelfInvite = errors.New("cannot join your own invite")
	// ErrNotMember means the caller is not a member of the partnership.
	ErrNotMember = errors.New("not a member of this partnership")
	// ErrNotFound means the user, partnership or recipe does not exist or is not visible.
	ErrNotFound = errors.New("not found")
	// ErrWriteFailed means the store rejected an atomic batch.
	ErrWriteFailed = errors.New("write failed")
	// ErrInviteCodeExhausted means no free invite code was found within the attempt limit.
	ErrInviteCodeExhausted = errors.New("could not allocate an invite code")
	// ErrInvalidNickname means the nickname is longer than the limit.
	ErrInvalidNickname = errors.New("nickname must be at most 20 characters")
)
