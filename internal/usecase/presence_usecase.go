package usecase

import (
	"context"
	"time"

	"carelink/internal/infrastructure/metrics"
	"carelink/internal/infrastructure/presence"
	"carelink/internal/infrastructure/ratelimit"
	"carelink/pkg/errors"
	"carelink/pkg/logger"
)

// PresenceUseCase turns typing signals into typingChanged broadcasts. Callers
// must already have checked that the participant is subscribed to the
// conversation.
type PresenceUseCase struct {
	typing      *presence.TypingRegistry
	broadcaster Broadcaster
	rateLimiter *ratelimit.RateLimiter
}

func NewPresenceUseCase(typing *presence.TypingRegistry, broadcaster Broadcaster, rateLimiter *ratelimit.RateLimiter) *PresenceUseCase {
	return &PresenceUseCase{
		typing:      typing,
		broadcaster: broadcaster,
		rateLimiter: rateLimiter,
	}
}

// StartTyping records or renews a signal. The transition to typing is
// broadcast, and renewals are re-broadcast at most twice per expiry window.
func (uc *PresenceUseCase) StartTyping(conversationID, participantID string) error {
	if uc.rateLimiter != nil && !uc.rateLimiter.Allow(participantID, ratelimit.ActionTyping) {
		return errors.TooManyRequests("Typing signals are too frequent")
	}
	if uc.typing.Start(conversationID, participantID) {
		metrics.TypingSignals.WithLabelValues("start").Inc()
		uc.broadcaster.PublishTyping(conversationID, participantID, true)
	}
	return nil
}

func (uc *PresenceUseCase) StopTyping(conversationID, participantID string) {
	if uc.typing.Stop(conversationID, participantID) {
		metrics.TypingSignals.WithLabelValues("stop").Inc()
		uc.broadcaster.PublishTyping(conversationID, participantID, false)
	}
}

// MessageSent clears the sender's typing signal once their message lands.
func (uc *PresenceUseCase) MessageSent(conversationID, participantID string) {
	uc.StopTyping(conversationID, participantID)
}

func (uc *PresenceUseCase) TypingIn(conversationID string) []string {
	return uc.typing.Typing(conversationID)
}

// ParticipantOffline clears every signal of a participant whose last session
// went away.
func (uc *PresenceUseCase) ParticipantOffline(participantID string) {
	for _, conversationID := range uc.typing.ClearParticipant(participantID) {
		metrics.TypingSignals.WithLabelValues("stop").Inc()
		uc.broadcaster.PublishTyping(conversationID, participantID, false)
	}
}

// Sweep broadcasts a stop for every signal that expired without renewal.
func (uc *PresenceUseCase) Sweep() int {
	expired := uc.typing.Sweep()
	for _, state := range expired {
		metrics.TypingSignals.WithLabelValues("expired").Inc()
		uc.broadcaster.PublishTyping(state.ConversationID, state.ParticipantID, false)
	}
	return len(expired)
}

// RunSweeper sweeps at half the expiry window until ctx is done.
func (uc *PresenceUseCase) RunSweeper(ctx context.Context) {
	interval := uc.typing.Expiry() / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Debug("typing sweeper started, interval %v", interval)
	for {
		select {
		case <-ticker.C:
			uc.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
