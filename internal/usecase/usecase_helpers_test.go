package usecase

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	repo "carelink/internal/adapter/repository"
	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/internal/infrastructure/database"
)

type typingEvent struct {
	conversationID string
	participantID  string
	typing         bool
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []*entity.Message
	reads    []*entity.ReadMarker
	origins  []string
	typing   []typingEvent
	updated  []*entity.Conversation
}

func (b *recordingBroadcaster) PublishMessage(_ *entity.Conversation, msg *entity.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
}

func (b *recordingBroadcaster) PublishReadAdvanced(_ *entity.Conversation, marker *entity.ReadMarker, origin string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads = append(b.reads, marker)
	b.origins = append(b.origins, origin)
}

func (b *recordingBroadcaster) PublishTyping(conversationID, participantID string, typing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typing = append(b.typing, typingEvent{conversationID, participantID, typing})
}

func (b *recordingBroadcaster) PublishConversationUpdated(conv *entity.Conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updated = append(b.updated, conv)
}

func (b *recordingBroadcaster) publishedMessages() []*entity.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*entity.Message(nil), b.messages...)
}

type fakeUploader struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	mimes    []string
}

func (u *fakeUploader) Upload(_ context.Context, conversationID, name, mimeType string, r io.Reader) (*entity.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.uploaded == nil {
		u.uploaded = make(map[string][]byte)
	}
	u.uploaded[name] = data
	u.mimes = append(u.mimes, mimeType)
	return &entity.Attachment{
		Name:     name,
		URL:      "https://blobs.test/" + conversationID + "/" + name,
		Size:     int64(len(data)),
		MimeType: mimeType,
	}, nil
}

func (u *fakeUploader) Close() error { return nil }

func (u *fakeUploader) SignedURL(attachmentURL string) (string, error) {
	return attachmentURL + "?signature=test", nil
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) GetParticipant(ctx context.Context, id string) (*entity.Participant, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*entity.Participant); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDirectory) GetAppointment(ctx context.Context, id string) (*entity.Appointment, error) {
	args := m.Called(ctx, id)
	if a, ok := args.Get(0).(*entity.Appointment); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

var (
	patient = entity.Identity{ParticipantID: "patient-1", Role: entity.RolePatient}
	doctor  = entity.Identity{ParticipantID: "doctor-1", Role: entity.RoleDoctor}
	admin   = entity.Identity{ParticipantID: "admin-1", Role: entity.RoleAdmin}
	nurse   = entity.Identity{ParticipantID: "doctor-2", Role: entity.RoleDoctor}
)

type testEnv struct {
	db          *gorm.DB
	convRepo    repository.ConversationRepository
	msgRepo     repository.MessageRepository
	broadcaster *recordingBroadcaster
	uploader    *fakeUploader
	conv        *ConversationUseCase
	messages    *MessageUseCase
	reads       *ReadStateUseCase
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Connect(database.DriverSQLite, "file:"+uuid.New().String()+"?mode=memory&cache=shared", false)
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	dir := repo.NewGormDirectory(db)
	for _, p := range []*entity.Participant{
		{ID: "patient-1", DisplayName: "Pat", Role: entity.RolePatient},
		{ID: "doctor-1", DisplayName: "Dr. One", Role: entity.RoleDoctor},
		{ID: "doctor-2", DisplayName: "Dr. Two", Role: entity.RoleDoctor},
		{ID: "admin-1", DisplayName: "Admin", Role: entity.RoleAdmin},
	} {
		require.NoError(t, dir.SaveParticipant(ctx, p))
	}
	require.NoError(t, dir.SaveAppointment(ctx, &entity.Appointment{ID: "appt-1", PatientID: "patient-1", DoctorID: "doctor-1"}))
	require.NoError(t, dir.SaveAppointment(ctx, &entity.Appointment{ID: "appt-ghost", PatientID: "patient-1", DoctorID: "ghost"}))

	env := &testEnv{
		db:          db,
		convRepo:    repo.NewGormConversationRepository(db),
		msgRepo:     repo.NewGormMessageRepository(db),
		broadcaster: &recordingBroadcaster{},
		uploader:    &fakeUploader{},
	}
	env.messages = NewMessageUseCase(env.convRepo, env.msgRepo, env.uploader, env.broadcaster, nil, 1<<20)
	env.conv = NewConversationUseCase(env.convRepo, dir, env.broadcaster, env.messages, nil)
	env.reads = NewReadStateUseCase(env.convRepo, env.msgRepo, repo.NewGormReadMarkerRepository(db), env.broadcaster)
	return env
}

func (env *testEnv) directConversation(t *testing.T) *entity.Conversation {
	t.Helper()
	conv, err := env.conv.ResolveOrCreateDirect(context.Background(), "patient-1", "doctor-1")
	require.NoError(t, err)
	return conv
}

func (env *testEnv) send(t *testing.T, caller entity.Identity, conversationID, body string) *entity.Message {
	t.Helper()
	msg, err := env.messages.Append(context.Background(), caller, AppendInput{
		ConversationID: conversationID,
		ClientTempID:   uuid.New().String(),
		Kind:           entity.MessageText,
		Body:           body,
	})
	require.NoError(t, err)
	return msg
}
