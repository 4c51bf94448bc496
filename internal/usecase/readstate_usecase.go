package usecase

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/internal/infrastructure/metrics"
	"carelink/pkg/errors"
)

const unreadSummaryConcurrency = 8

type ReadStateUseCase struct {
	convRepo    repository.ConversationRepository
	msgRepo     repository.MessageRepository
	markerRepo  repository.ReadMarkerRepository
	broadcaster Broadcaster
	now         func() time.Time
}

func NewReadStateUseCase(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	markerRepo repository.ReadMarkerRepository,
	broadcaster Broadcaster,
) *ReadStateUseCase {
	return &ReadStateUseCase{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		markerRepo:  markerRepo,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// MarkRead moves the caller's read marker forward to messageID, or to the
// newest message when messageID is empty. Stale positions leave the marker
// unchanged and are not an error; advanced reports whether it moved.
func (uc *ReadStateUseCase) MarkRead(ctx context.Context, caller entity.Identity, conversationID, messageID, originSessionID string) (marker *entity.ReadMarker, advanced bool, err error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if !conv.HasParticipant(caller.ParticipantID) {
		return nil, false, errors.NotAParticipant(conversationID)
	}

	var target *entity.Message
	if messageID == "" {
		target, err = uc.msgRepo.Latest(ctx, conv.ID)
		if errors.Is(err, errors.CodeNotFound) {
			return nil, false, nil
		}
	} else {
		target, err = uc.msgRepo.GetByID(ctx, conv.ID, messageID)
	}
	if err != nil {
		return nil, false, err
	}

	marker = &entity.ReadMarker{
		ConversationID:    conv.ID,
		ParticipantID:     caller.ParticipantID,
		LastReadMessageID: target.ID,
		LastReadAt:        target.CreatedAt,
		UpdatedAt:         uc.now().UTC(),
	}

	if err := uc.markerRepo.Advance(ctx, marker); err != nil {
		if errors.Is(err, errors.CodeAlreadyRead) {
			current, getErr := uc.markerRepo.Get(ctx, conv.ID, caller.ParticipantID)
			if getErr != nil {
				return nil, false, getErr
			}
			return current, false, nil
		}
		log.Printf("MarkRead Error: conversation %s participant %s: %v", conv.ID, caller.ParticipantID, err)
		return nil, false, err
	}

	metrics.ReadAdvances.Inc()
	uc.broadcaster.PublishReadAdvanced(conv, marker, originSessionID)
	return marker, true, nil
}

// GetMarker returns nil when the participant has not read anything yet.
func (uc *ReadStateUseCase) GetMarker(ctx context.Context, conversationID, participantID string) (*entity.ReadMarker, error) {
	return uc.markerRepo.Get(ctx, conversationID, participantID)
}

// UnreadCount counts messages after the participant's marker that others
// sent.
func (uc *ReadStateUseCase) UnreadCount(ctx context.Context, participantID, conversationID string) (int, error) {
	marker, err := uc.markerRepo.Get(ctx, conversationID, participantID)
	if err != nil {
		return 0, err
	}

	var since time.Time
	if marker != nil {
		since = marker.LastReadAt
	}
	return uc.msgRepo.CountUnread(ctx, conversationID, participantID, since)
}

// UnreadSummary is the full recount clients use after a reconnect.
func (uc *ReadStateUseCase) UnreadSummary(ctx context.Context, participantID string) (*entity.UnreadSummary, error) {
	conversations, err := uc.convRepo.ListByParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	summary := &entity.UnreadSummary{ByConversation: make(map[string]int, len(conversations))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(unreadSummaryConcurrency)
	for _, conv := range conversations {
		conv := conv
		g.Go(func() error {
			n, err := uc.UnreadCount(gctx, participantID, conv.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			summary.ByConversation[conv.ID] = n
			summary.Total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("UnreadSummary Error: participant %s: %v", participantID, err)
		return nil, err
	}
	return summary, nil
}
