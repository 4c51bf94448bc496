package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink/internal/adapter/api"
	"carelink/internal/adapter/api/handler"
	"carelink/internal/adapter/api/middleware"
	repo "carelink/internal/adapter/repository"
	"carelink/internal/domain/entity"
	"carelink/internal/infrastructure/database"
	"carelink/internal/infrastructure/identity"
	"carelink/internal/infrastructure/ratelimit"
	"carelink/internal/usecase"
	"carelink/pkg/errors"
	"carelink/pkg/response"
)

type memoryUploader struct{}

func (memoryUploader) Upload(_ context.Context, conversationID, name, mimeType string, r io.Reader) (*entity.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &entity.Attachment{
		Name:     name,
		URL:      "https://blobs.test/" + conversationID + "/" + name,
		Size:     int64(len(data)),
		MimeType: mimeType,
	}, nil
}

func (memoryUploader) Close() error { return nil }

type apiEnv struct {
	e      *echo.Echo
	tokens map[string]string
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

func newAPIEnv(t *testing.T, limiter *ratelimit.RateLimiter) *apiEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Connect(database.DriverSQLite, "file:"+uuid.New().String()+"?mode=memory&cache=shared", false)
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	dir := repo.NewGormDirectory(db)
	participants := []*entity.Participant{
		{ID: "patient-1", DisplayName: "Pat", Role: entity.RolePatient},
		{ID: "doctor-1", DisplayName: "Dr. One", Role: entity.RoleDoctor},
		{ID: "doctor-2", DisplayName: "Dr. Two", Role: entity.RoleDoctor},
		{ID: "admin-1", DisplayName: "Admin", Role: entity.RoleAdmin},
	}
	for _, p := range participants {
		require.NoError(t, dir.SaveParticipant(ctx, p))
	}
	require.NoError(t, dir.SaveAppointment(ctx, &entity.Appointment{ID: "appt-1", PatientID: "patient-1", DoctorID: "doctor-1"}))

	resolver := identity.NewJWTResolver("test-secret", time.Hour, dir)
	tokens := make(map[string]string)
	for _, p := range participants {
		token, err := resolver.Issue(p.ID, p.Role)
		require.NoError(t, err)
		tokens[p.ID] = token
	}

	convRepo := repo.NewGormConversationRepository(db)
	msgRepo := repo.NewGormMessageRepository(db)
	messages := usecase.NewMessageUseCase(convRepo, msgRepo, memoryUploader{}, usecase.NopBroadcaster{}, nil, 1<<20)
	conversations := usecase.NewConversationUseCase(convRepo, dir, usecase.NopBroadcaster{}, messages, nil)
	reads := usecase.NewReadStateUseCase(convRepo, msgRepo, repo.NewGormReadMarkerRepository(db), usecase.NopBroadcaster{})

	handler.Setup(conversations, messages, reads)
	handler.SetupHealthHandler(nil, func() int { return 0 })

	e := echo.New()
	e.Validator = api.NewValidator()
	authMiddleware := middleware.NewAuthMiddleware(resolver)
	Setup(e, authMiddleware, limiter)
	SetupAdminRouter(e, authMiddleware, handler.NewAdminHandler(stubRealtime{}))

	return &apiEnv{e: e, tokens: tokens}
}

type stubRealtime struct{}

func (stubRealtime) SessionCount() int             { return 3 }
func (stubRealtime) Online(ids ...string) []string { return ids }

func (env *apiEnv) do(t *testing.T, as, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+env.tokens[as])
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	var out envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func (env *apiEnv) openDirect(t *testing.T) *entity.Conversation {
	t.Helper()
	rec, out := env.do(t, "patient-1", http.MethodPost, "/v1/conversations/direct", map[string]string{"participant_id": "doctor-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var conv entity.Conversation
	decode(t, out.Data, &conv)
	return &conv
}

func TestHealthCheck(t *testing.T) {
	env := newAPIEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec, out := env.do(t, "", http.MethodGet, "/v1/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, out.Error)
	assert.Equal(t, errors.CodeUnauthenticated, out.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConversationRoutes(t *testing.T) {
	env := newAPIEnv(t, nil)

	conv := env.openDirect(t)
	assert.Equal(t, "direct_doctor-1_patient-1", conv.ID)

	rec, out := env.do(t, "doctor-1", http.MethodPost, "/v1/conversations/direct", map[string]string{"participant_id": "patient-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var again entity.Conversation
	decode(t, out.Data, &again)
	assert.Equal(t, conv.ID, again.ID)

	rec, out = env.do(t, "patient-1", http.MethodPost, "/v1/conversations/appointment", map[string]string{"appointment_id": "appt-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var appt entity.Conversation
	decode(t, out.Data, &appt)
	assert.Equal(t, "appt_appt-1", appt.ID)
	assert.Equal(t, entity.ConversationAppointment, appt.Kind)

	rec, out = env.do(t, "patient-1", http.MethodGet, "/v1/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*entity.Conversation
	decode(t, out.Data, &list)
	assert.Len(t, list, 2)

	rec, out = env.do(t, "doctor-2", http.MethodGet, "/v1/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errors.CodeNotAParticipant, out.Error.Code)

	rec, out = env.do(t, "patient-1", http.MethodGet, "/v1/conversations/direct_nobody_patient-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.CodeNotFound, out.Error.Code)

	rec, out = env.do(t, "patient-1", http.MethodPost, "/v1/conversations/direct", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", out.Error.Code)
}

func TestCloseConversation(t *testing.T) {
	env := newAPIEnv(t, nil)
	conv := env.openDirect(t)

	rec, out := env.do(t, "doctor-1", http.MethodPost, "/v1/conversations/"+conv.ID+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var closed entity.Conversation
	decode(t, out.Data, &closed)
	assert.Equal(t, entity.ConversationClosed, closed.Status)

	rec, out = env.do(t, "patient-1", http.MethodPost, "/v1/conversations/"+conv.ID+"/messages", map[string]string{"client_temp_id": "c1", "body": "hello?"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, errors.CodeFailedPrecondition, out.Error.Code)
}

func TestSendAndHistory(t *testing.T) {
	env := newAPIEnv(t, nil)
	conv := env.openDirect(t)
	path := "/v1/conversations/" + conv.ID + "/messages"

	rec, out := env.do(t, "patient-1", http.MethodPost, path, map[string]string{"client_temp_id": "c1", "body": "first"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first entity.Message
	decode(t, out.Data, &first)
	assert.Equal(t, "c1", first.ClientTempID)
	assert.NotEmpty(t, first.ID)

	rec, out = env.do(t, "patient-1", http.MethodPost, path, map[string]string{"client_temp_id": "c1", "body": "first"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var retried entity.Message
	decode(t, out.Data, &retried)
	assert.Equal(t, first.ID, retried.ID, "a retried send must not duplicate")

	rec, _ = env.do(t, "doctor-1", http.MethodPost, path, map[string]string{"client_temp_id": "d1", "body": "second"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, out = env.do(t, "patient-1", http.MethodGet, path+"?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items      []*entity.Message `json:"items"`
		Count      int               `json:"count"`
		NextCursor string            `json:"next_cursor"`
	}
	decode(t, out.Data, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "first", page.Items[0].Body)
	require.NotEmpty(t, page.NextCursor)

	rec, out = env.do(t, "patient-1", http.MethodGet, path+"?limit=10&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, out.Data, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "second", page.Items[0].Body)
	assert.Empty(t, page.NextCursor)

	rec, out = env.do(t, "patient-1", http.MethodGet, path+"?cursor=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.CodeBadRequest, out.Error.Code)
}

func TestReadRoutes(t *testing.T) {
	env := newAPIEnv(t, nil)
	conv := env.openDirect(t)

	rec, out := env.do(t, "patient-1", http.MethodPost, "/v1/conversations/"+conv.ID+"/messages", map[string]string{"client_temp_id": "c1", "body": "any results?"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg entity.Message
	decode(t, out.Data, &msg)

	rec, out = env.do(t, "doctor-1", http.MethodGet, "/v1/conversations/unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary entity.UnreadSummary
	decode(t, out.Data, &summary)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.ByConversation[conv.ID])

	var result struct {
		Marker   *entity.ReadMarker `json:"marker"`
		Advanced bool               `json:"advanced"`
	}
	rec, out = env.do(t, "doctor-1", http.MethodPut, "/v1/conversations/"+conv.ID+"/read", map[string]string{"message_id": msg.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, out.Data, &result)
	assert.True(t, result.Advanced)
	assert.Equal(t, msg.ID, result.Marker.LastReadMessageID)

	rec, out = env.do(t, "doctor-1", http.MethodPut, "/v1/conversations/"+conv.ID+"/read", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, out.Data, &result)
	assert.False(t, result.Advanced, "marking the same position again is a no-op")

	rec, out = env.do(t, "patient-1", http.MethodGet, "/v1/conversations/"+conv.ID+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var markers map[string]*entity.ReadMarker
	decode(t, out.Data, &markers)
	require.NotNil(t, markers["doctor-1"])
	assert.Equal(t, msg.ID, markers["doctor-1"].LastReadMessageID)
	assert.Nil(t, markers["patient-1"])

	rec, out = env.do(t, "doctor-1", http.MethodGet, "/v1/conversations/unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, out.Data, &summary)
	assert.Equal(t, 0, summary.Total)
}

func TestAttachmentRoutes(t *testing.T) {
	env := newAPIEnv(t, nil)
	conv := env.openDirect(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("client_temp_id", "f1"))
	part, err := form.CreateFormFile("file", "vitals.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("bp 120/80, hr 64"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/"+conv.ID+"/attachments", &body)
	req.Header.Set(echo.HeaderContentType, form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.tokens["patient-1"])
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	var msg entity.Message
	decode(t, out.Data, &msg)
	assert.Equal(t, entity.MessageFile, msg.Kind)
	assert.Equal(t, "f1", msg.ClientTempID)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "vitals.txt", msg.Attachment.Name)

	rec, _ = env.do(t, "doctor-1", http.MethodGet, "/v1/conversations/"+conv.ID+"/messages/"+msg.ID+"/attachment", nil)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, msg.Attachment.URL, rec.Header().Get("Location"))
}

func TestAdminRoutes(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec, out := env.do(t, "doctor-1", http.MethodGet, "/v1/admin/presence", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errors.CodeForbidden, out.Error.Code)

	rec, out = env.do(t, "admin-1", http.MethodGet, "/v1/admin/presence?participant=doctor-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Sessions int      `json:"sessions"`
		Online   []string `json:"online"`
	}
	decode(t, out.Data, &stats)
	assert.Equal(t, 3, stats.Sessions)
	assert.Equal(t, []string{"doctor-1"}, stats.Online)
}

func TestRateLimit(t *testing.T) {
	env := newAPIEnv(t, ratelimit.NewRateLimiter(60))

	var limited bool
	for i := 0; i < 100; i++ {
		rec, out := env.do(t, "patient-1", http.MethodGet, "/v1/conversations", nil)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, errors.CodeTooManyRequests, out.Error.Code)
			limited = true
			break
		}
	}
	assert.True(t, limited)
}
