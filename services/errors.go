package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrSelfConnection      = errors.New("cannot connect to self")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotFound            = errors.New("not found")
	ErrGateNotMet          = errors.New("gate not met")
	ErrScoringDegraded     = errors.New("scoring degraded")
	ErrSessionFailed       = errors.New("session failed")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrRewardUnavailable   = errors.New("reward unavailable")
	ErrInvalidInput        = errors.New("invalid input")
)

// dbErr maps gorm errors onto the service sentinels. op names the failed step.
func dbErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w: %v", op, ErrPersistenceConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
