package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"carelink/internal/infrastructure/presence"
	"carelink/pkg/chatclient"
)

func TestPresenceUseCase_TypingLifecycle(t *testing.T) {
	b := &recordingBroadcaster{}
	uc := NewPresenceUseCase(presence.NewTypingRegistry(50*time.Millisecond), b, nil)

	assert.NoError(t, uc.StartTyping("c1", "patient-1"))
	assert.NoError(t, uc.StartTyping("c1", "patient-1"))
	assert.Equal(t, []string{"patient-1"}, uc.TypingIn("c1"))

	uc.MessageSent("c1", "patient-1")
	uc.StopTyping("c1", "patient-1")

	assert.Equal(t, []typingEvent{
		{"c1", "patient-1", true},
		{"c1", "patient-1", false},
	}, b.typing)
}

func TestPresenceUseCase_SweepBroadcastsExpiry(t *testing.T) {
	b := &recordingBroadcaster{}
	uc := NewPresenceUseCase(presence.NewTypingRegistry(20*time.Millisecond), b, nil)

	assert.NoError(t, uc.StartTyping("c1", "doctor-1"))
	time.Sleep(40 * time.Millisecond)

	assert.Empty(t, uc.TypingIn("c1"))
	assert.Equal(t, 1, uc.Sweep())
	assert.Equal(t, typingEvent{"c1", "doctor-1", false}, b.typing[len(b.typing)-1])
	assert.Equal(t, 0, uc.Sweep())
}

func TestPresenceUseCase_ParticipantOffline(t *testing.T) {
	b := &recordingBroadcaster{}
	uc := NewPresenceUseCase(presence.NewTypingRegistry(time.Second), b, nil)

	assert.NoError(t, uc.StartTyping("c1", "patient-1"))
	assert.NoError(t, uc.StartTyping("c2", "patient-1"))
	uc.ParticipantOffline("patient-1")

	assert.Empty(t, uc.TypingIn("c1"))
	assert.Len(t, b.typing, 4)
	assert.False(t, b.typing[3].typing)
}

func TestPresenceUseCase_RenewalsKeepReceiversShowingTypist(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := &recordingBroadcaster{}
	registry := presence.NewTypingRegistry(time.Second).WithClock(func() time.Time { return now })
	uc := NewPresenceUseCase(registry, b, nil)

	receiver := chatclient.NewTypingTracker(time.Second)
	delivered := 0

	for step := 0; step <= 15; step++ {
		if step%3 == 0 {
			assert.NoError(t, uc.StartTyping("c1", "doctor-1"))
		}
		for ; delivered < len(b.typing); delivered++ {
			ev := b.typing[delivered]
			receiver.Apply(ev.conversationID, ev.participantID, ev.typing, now)
		}

		assert.Equal(t, []string{"doctor-1"}, receiver.Typing("c1", now), "at %dms", step*100)
		assert.Equal(t, []string{"doctor-1"}, uc.TypingIn("c1"))
		now = now.Add(100 * time.Millisecond)
	}
	assert.Greater(t, len(b.typing), 1)
}
