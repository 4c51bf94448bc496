package usecase

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/internal/infrastructure/ratelimit"
	"carelink/pkg/errors"
)

const creationTimeout = 10 * time.Second

// ConversationUseCase is the conversation registry: it resolves care
// relationships to stable conversation ids, creating them on first use.
type ConversationUseCase struct {
	convRepo    repository.ConversationRepository
	directory   repository.ParticipantDirectory
	broadcaster Broadcaster
	poster      SystemPoster
	rateLimiter *ratelimit.RateLimiter
	creations   singleflight.Group
	now         func() time.Time
}

func NewConversationUseCase(
	convRepo repository.ConversationRepository,
	directory repository.ParticipantDirectory,
	broadcaster Broadcaster,
	poster SystemPoster,
	rateLimiter *ratelimit.RateLimiter,
) *ConversationUseCase {
	return &ConversationUseCase{
		convRepo:    convRepo,
		directory:   directory,
		broadcaster: broadcaster,
		poster:      poster,
		rateLimiter: rateLimiter,
		now:         time.Now,
	}
}

// OpenDirect resolves the caller's direct conversation with otherID.
func (uc *ConversationUseCase) OpenDirect(ctx context.Context, caller entity.Identity, otherID string) (*entity.Conversation, error) {
	if uc.rateLimiter != nil && !uc.rateLimiter.Allow(caller.ParticipantID, ratelimit.ActionCreateConversation) {
		return nil, errors.TooManyRequests("Too many conversations opened. Please wait")
	}
	return uc.ResolveOrCreateDirect(ctx, caller.ParticipantID, otherID)
}

// OpenForAppointment resolves the appointment's conversation and checks the
// caller is one of its two participants.
func (uc *ConversationUseCase) OpenForAppointment(ctx context.Context, caller entity.Identity, appointmentID string) (*entity.Conversation, error) {
	conv, err := uc.ResolveOrCreateForAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller.ParticipantID) {
		return nil, errors.NotAParticipant(conv.ID)
	}
	return conv, nil
}

// ResolveOrCreateDirect returns the single direct conversation of the
// unordered pair. Concurrent callers, including both participants at once,
// always get the same conversation.
func (uc *ConversationUseCase) ResolveOrCreateDirect(ctx context.Context, participantA, participantB string) (*entity.Conversation, error) {
	if participantA == "" || participantB == "" {
		return nil, errors.BadRequest("Both participants are required", nil)
	}
	if participantA == participantB {
		return nil, errors.BadRequest("You cannot open a conversation with yourself", nil)
	}

	for _, id := range []string{participantA, participantB} {
		if _, err := uc.directory.GetParticipant(ctx, id); err != nil {
			log.Printf("ResolveOrCreateDirect Error: participant %s: %v", id, err)
			return nil, err
		}
	}

	return uc.resolveOrCreate(ctx, entity.NewDirectConversation(participantA, participantB, uc.now()))
}

// ResolveOrCreateForAppointment returns the conversation bound to the
// appointment, creating it between the appointment's patient and doctor.
func (uc *ConversationUseCase) ResolveOrCreateForAppointment(ctx context.Context, appointmentID string) (*entity.Conversation, error) {
	if appointmentID == "" {
		return nil, errors.BadRequest("appointment_id is required", nil)
	}

	appt, err := uc.directory.GetAppointment(ctx, appointmentID)
	if err != nil {
		log.Printf("ResolveOrCreateForAppointment Error: appointment %s: %v", appointmentID, err)
		return nil, err
	}
	if appt.PatientID == "" || appt.DoctorID == "" || appt.PatientID == appt.DoctorID {
		return nil, errors.FailedPrecondition("Appointment has no resolvable participants", nil)
	}
	for _, id := range []string{appt.PatientID, appt.DoctorID} {
		if _, err := uc.directory.GetParticipant(ctx, id); err != nil {
			if errors.Is(err, errors.CodeNotFound) {
				return nil, errors.FailedPrecondition("Appointment has no resolvable participants", err)
			}
			return nil, err
		}
	}

	conv, err := uc.resolveOrCreate(ctx, entity.NewAppointmentConversation(appt, uc.now()))
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// resolveOrCreate shares one lookup-or-create per conversation id among
// concurrent callers. The shared work runs detached from any one caller's
// context; each caller still stops waiting when its own context ends.
func (uc *ConversationUseCase) resolveOrCreate(ctx context.Context, candidate *entity.Conversation) (*entity.Conversation, error) {
	ch := uc.creations.DoChan(candidate.ID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), creationTimeout)
		defer cancel()

		existing, err := uc.convRepo.GetByID(ctx, candidate.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, errors.CodeNotFound) {
			return nil, err
		}

		stored, created, err := uc.convRepo.CreateIfAbsent(ctx, candidate)
		if err != nil {
			log.Printf("resolveOrCreate Error: create conversation %s: %v", candidate.ID, err)
			return nil, err
		}
		if created {
			log.Printf("Conversation %s created (%s) between %s and %s", stored.ID, stored.Kind, stored.ParticipantA, stored.ParticipantB)
			if stored.Kind == entity.ConversationAppointment && uc.poster != nil {
				if _, err := uc.poster.AppendSystem(ctx, stored.ID, "Conversation opened for appointment "+stored.AppointmentID); err != nil {
					log.Printf("resolveOrCreate Warning: opening message for %s: %v", stored.ID, err)
				}
			}
			uc.broadcaster.PublishConversationUpdated(stored)
		}
		return stored, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		conv := *res.Val.(*entity.Conversation)
		return &conv, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListConversationsFor orders by most recent message activity.
func (uc *ConversationUseCase) ListConversationsFor(ctx context.Context, participantID string) ([]*entity.Conversation, error) {
	if _, err := uc.directory.GetParticipant(ctx, participantID); err != nil {
		return nil, err
	}

	conversations, err := uc.convRepo.ListByParticipant(ctx, participantID)
	if err != nil {
		log.Printf("ListConversationsFor Error: participant %s: %v", participantID, err)
		return nil, err
	}
	return conversations, nil
}

// GetConversation returns the conversation if the caller participates in it.
func (uc *ConversationUseCase) GetConversation(ctx context.Context, caller entity.Identity, conversationID string) (*entity.Conversation, error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller.ParticipantID) {
		return nil, errors.NotAParticipant(conversationID)
	}
	return conv, nil
}

// CloseConversation posts a closing system message and marks the
// conversation closed. Participants and admins may close.
func (uc *ConversationUseCase) CloseConversation(ctx context.Context, caller entity.Identity, conversationID string) (*entity.Conversation, error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller.ParticipantID) && caller.Role != entity.RoleAdmin {
		return nil, errors.NotAParticipant(conversationID)
	}
	if !conv.IsOpen() {
		return conv, nil
	}

	// Status goes first: the store rejects participant appends to a closed
	// conversation, so nothing can land after the closing notice.
	if err := uc.convRepo.UpdateStatus(ctx, conv.ID, entity.ConversationClosed); err != nil {
		log.Printf("CloseConversation Error: %s: %v", conv.ID, err)
		return nil, err
	}
	conv.Status = entity.ConversationClosed

	if uc.poster != nil {
		if _, err := uc.poster.AppendSystem(ctx, conv.ID, "Conversation closed"); err != nil {
			log.Printf("CloseConversation Warning: closing message for %s: %v", conv.ID, err)
		}
	}
	uc.broadcaster.PublishConversationUpdated(conv)
	return conv, nil
}
