package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/cache"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/google/uuid"
)

const (
	// ChallengeThreshold failures activate the security question challenge
	ChallengeThreshold = 3
	// LockoutThreshold failures lock the client out for LockoutDuration
	LockoutThreshold = 5
	LockoutDuration  = 30 * time.Second

	trackerTTL       = 24 * time.Hour
	trackerKeyPrefix = "login:tracker:"
)

// Challenge is the active security question challenge of a client
type Challenge struct {
	ID        string             `json:"id"`
	Role      models.UserRole    `json:"role"`
	Questions []SecurityQuestion `json:"questions"`
}

// TrackerState is the per-client failure counter that gates login attempts
type TrackerState struct {
	Attempts    int        `json:"attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Challenged  bool       `json:"challenged"`
	Challenge   *Challenge `json:"challenge,omitempty"`
}

// LockoutSecondsRemaining counts down once per second until the lockout ends
func (s *TrackerState) LockoutSecondsRemaining(now time.Time) int {
	if s.LockedUntil == nil {
		return 0
	}
	remaining := s.LockedUntil.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

func (s *TrackerState) IsLocked(now time.Time) bool {
	return s.Attempts >= LockoutThreshold && s.LockoutSecondsRemaining(now) > 0
}

// LockoutTracker keeps TrackerState in the cache, keyed by client
type LockoutTracker struct {
	cache     cache.CacheService
	questions *SecurityQuestionSet
	now       func() time.Time
}

func NewLockoutTracker(cacheService cache.CacheService, questions *SecurityQuestionSet, now func() time.Time) *LockoutTracker {
	if now == nil {
		now = time.Now
	}
	return &LockoutTracker{cache: cacheService, questions: questions, now: now}
}

func (t *LockoutTracker) Now() time.Time {
	return t.now()
}

func (t *LockoutTracker) Load(ctx context.Context, clientKey string) (*TrackerState, error) {
	var state TrackerState
	if err := t.cache.Get(ctx, trackerKeyPrefix+clientKey, &state); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return &TrackerState{}, nil
		}
		return nil, fmt.Errorf("failed to load login tracker: %w", err)
	}
	return &state, nil
}

// RecordFailure counts one failed attempt. It reports whether this failure
// activated the challenge and whether it started a lockout.
func (t *LockoutTracker) RecordFailure(ctx context.Context, clientKey string, role models.UserRole) (*TrackerState, bool, bool, error) {
	state, err := t.Load(ctx, clientKey)
	if err != nil {
		return nil, false, false, err
	}

	state.Attempts++
	challenged, locked := false, false

	if state.Attempts >= LockoutThreshold {
		until := t.now().Add(LockoutDuration)
		state.LockedUntil = &until
		locked = true
	} else if state.Attempts >= ChallengeThreshold && !state.Challenged {
		questions, err := t.questions.Sample(role, ChallengeQuestionCount)
		if err != nil {
			return nil, false, false, err
		}
		state.Challenged = true
		state.Challenge = &Challenge{
			ID:        uuid.New().String(),
			Role:      role,
			Questions: questions,
		}
		challenged = true
	}

	if err := t.cache.Set(ctx, trackerKeyPrefix+clientKey, state, trackerTTL); err != nil {
		return nil, false, false, fmt.Errorf("failed to save login tracker: %w", err)
	}
	return state, challenged, locked, nil
}

// Reset returns the client to the zero state after a successful login
func (t *LockoutTracker) Reset(ctx context.Context, clientKey string) error {
	if err := t.cache.Delete(ctx, trackerKeyPrefix+clientKey); err != nil {
		return fmt.Errorf("failed to reset login tracker: %w", err)
	}
	return nil
}
