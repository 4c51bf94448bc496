package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	repo "carelink/internal/adapter/repository"
	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

func TestResolveOrCreateDirect_ConcurrentCallersShareOneConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "patient-1", "doctor-1"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := env.conv.ResolveOrCreateDirect(ctx, a, b)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "direct_doctor-1_patient-1", id)
	}

	var rows int64
	require.NoError(t, env.db.Table("conversations").Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestResolveOrCreateDirect_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.conv.ResolveOrCreateDirect(ctx, "patient-1", "patient-1")
	assert.True(t, errors.Is(err, errors.CodeBadRequest))

	_, err = env.conv.ResolveOrCreateDirect(ctx, "patient-1", "nobody")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestResolveOrCreateForAppointment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conv, err := env.conv.ResolveOrCreateForAppointment(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "appt_appt-1", conv.ID)
	assert.Equal(t, entity.ConversationAppointment, conv.Kind)
	assert.True(t, conv.HasParticipant("patient-1"))
	assert.True(t, conv.HasParticipant("doctor-1"))

	again, err := env.conv.ResolveOrCreateForAppointment(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	// only the first resolution posts the opening notice
	history, err := env.msgRepo.ListSince(ctx, conv.ID, conv.CreatedAt.AddDate(0, 0, -1), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.MessageSystem, history[0].Kind)

	_, err = env.conv.ResolveOrCreateForAppointment(ctx, "appt-ghost")
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	_, err = env.conv.ResolveOrCreateForAppointment(ctx, "appt-missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestResolveOrCreateForAppointment_UnresolvableParticipants(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("GetAppointment", mock.Anything, "appt-9").Return(&entity.Appointment{ID: "appt-9", PatientID: "patient-1"}, nil)

	uc := NewConversationUseCase(nil, dir, NopBroadcaster{}, nil, nil)
	_, err := uc.ResolveOrCreateForAppointment(context.Background(), "appt-9")

	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
	dir.AssertExpectations(t)
	dir.AssertNotCalled(t, "GetParticipant", mock.Anything, mock.Anything)
}

func TestOpenForAppointment_RejectsOutsiders(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.conv.OpenForAppointment(context.Background(), nurse, "appt-1")
	assert.True(t, errors.Is(err, errors.CodeNotAParticipant))
}

func TestListConversationsFor_MostRecentFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.directConversation(t)
	second, err := env.conv.ResolveOrCreateDirect(ctx, "patient-1", "doctor-2")
	require.NoError(t, err)

	env.send(t, doctor, first.ID, "follow-up booked")

	list, err := env.conv.ListConversationsFor(ctx, "patient-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestGetConversation_RequiresParticipant(t *testing.T) {
	env := newTestEnv(t)
	conv := env.directConversation(t)

	got, err := env.conv.GetConversation(context.Background(), patient, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = env.conv.GetConversation(context.Background(), nurse, conv.ID)
	assert.True(t, errors.Is(err, errors.CodeNotAParticipant))
}

func TestCloseConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.directConversation(t)

	_, err := env.conv.CloseConversation(ctx, nurse, conv.ID)
	assert.True(t, errors.Is(err, errors.CodeNotAParticipant))

	closed, err := env.conv.CloseConversation(ctx, admin, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ConversationClosed, closed.Status)

	published := env.broadcaster.publishedMessages()
	require.NotEmpty(t, published)
	assert.Equal(t, entity.MessageSystem, published[len(published)-1].Kind)

	_, err = env.messages.Append(ctx, patient, AppendInput{ConversationID: conv.ID, Kind: entity.MessageText, Body: "still there?"})
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	// closing twice is a no-op
	_, err = env.conv.CloseConversation(ctx, doctor, conv.ID)
	require.NoError(t, err)
	assert.Len(t, env.broadcaster.publishedMessages(), len(published))
}

// gatedConversations holds GetByID until release is closed.
type gatedConversations struct {
	repository.ConversationRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedConversations) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.ConversationRepository.GetByID(ctx, id)
}

// staleConversations reads the conversation, then holds the result until
// release is closed, so the caller acts on a status that may have changed.
type staleConversations struct {
	repository.ConversationRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *staleConversations) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	conv, err := s.ConversationRepository.GetByID(ctx, id)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return conv, err
}

func TestCloseConversation_NoticeStaysLastWhenSendRaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.directConversation(t)
	env.send(t, patient, conv.ID, "before")

	stale := &staleConversations{
		ConversationRepository: env.convRepo,
		entered:                make(chan struct{}),
		release:                make(chan struct{}),
	}
	racing := NewMessageUseCase(stale, env.msgRepo, env.uploader, env.broadcaster, nil, 1<<20)

	sendErr := make(chan error, 1)
	go func() {
		_, err := racing.Append(ctx, patient, AppendInput{ConversationID: conv.ID, Kind: entity.MessageText, Body: "one more thing"})
		sendErr <- err
	}()
	<-stale.entered

	_, err := env.conv.CloseConversation(ctx, doctor, conv.ID)
	require.NoError(t, err)

	close(stale.release)
	assert.True(t, errors.Is(<-sendErr, errors.CodeFailedPrecondition))

	all, err := env.msgRepo.ListSince(ctx, conv.ID, time.Time{}, 50)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	last := all[len(all)-1]
	assert.Equal(t, entity.MessageSystem, last.Kind)
	assert.Equal(t, "Conversation closed", last.Body)
}

func TestResolveOrCreateDirect_CancelledCallerDoesNotFailOthers(t *testing.T) {
	env := newTestEnv(t)
	gated := &gatedConversations{
		ConversationRepository: env.convRepo,
		entered:                make(chan struct{}),
		release:                make(chan struct{}),
	}
	uc := NewConversationUseCase(gated, repo.NewGormDirectory(env.db), env.broadcaster, env.messages, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := uc.ResolveOrCreateDirect(firstCtx, "patient-1", "doctor-1")
		firstErr <- err
	}()
	<-gated.entered

	type result struct {
		conv *entity.Conversation
		err  error
	}
	second := make(chan result, 1)
	go func() {
		conv, err := uc.ResolveOrCreateDirect(context.Background(), "doctor-1", "patient-1")
		second <- result{conv, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gated.release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "direct_doctor-1_patient-1", res.conv.ID)

	stored, err := env.convRepo.GetByID(context.Background(), res.conv.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())
}
