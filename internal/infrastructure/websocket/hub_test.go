package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	repo "carelink/internal/adapter/repository"
	"carelink/internal/domain/entity"
	"carelink/internal/infrastructure/database"
	"carelink/internal/infrastructure/presence"
	"carelink/internal/usecase"
	"carelink/pkg/errors"
	"carelink/pkg/protocol"
)

var identities = map[string]entity.Identity{
	"patient-1": {ParticipantID: "patient-1", Role: entity.RolePatient},
	"doctor-1":  {ParticipantID: "doctor-1", Role: entity.RoleDoctor},
	"doctor-2":  {ParticipantID: "doctor-2", Role: entity.RoleDoctor},
}

type realtimeEnv struct {
	server *httptest.Server
	hub    *Hub
	conv   *entity.Conversation
}

func newRealtimeEnv(t *testing.T) *realtimeEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.Connect(database.DriverSQLite, "file:"+uuid.New().String()+"?mode=memory&cache=shared", false)
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	dir := repo.NewGormDirectory(db)
	for id, ident := range identities {
		require.NoError(t, dir.SaveParticipant(ctx, &entity.Participant{ID: id, Role: ident.Role}))
	}

	hub := NewHub()
	hub.Start(ctx)

	convRepo := repo.NewGormConversationRepository(db)
	msgRepo := repo.NewGormMessageRepository(db)
	messages := usecase.NewMessageUseCase(convRepo, msgRepo, nil, hub, nil, 0)
	conversations := usecase.NewConversationUseCase(convRepo, dir, hub, messages, nil)
	reads := usecase.NewReadStateUseCase(convRepo, msgRepo, repo.NewGormReadMarkerRepository(db), hub)
	typing := usecase.NewPresenceUseCase(presence.NewTypingRegistry(time.Second), hub, nil)
	events := NewEventHandler(hub, conversations, messages, reads, typing)

	conv, err := conversations.ResolveOrCreateDirect(ctx, "patient-1", "doctor-1")
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identities[r.URL.Query().Get("as")]
		if !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		events.Serve(conn, identity)
	}))
	t.Cleanup(server.Close)

	return &realtimeEnv{server: server, hub: hub, conv: conv}
}

func (env *realtimeEnv) dial(t *testing.T, as string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/?as=" + as
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (env *realtimeEnv) waitSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return env.hub.SessionCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func send(t *testing.T, conn *websocket.Conn, eventType, conversationID string, data interface{}) {
	t.Helper()
	frame, err := protocol.Encode(eventType, conversationID, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// expect reads frames until one of eventType arrives.
func expect(t *testing.T, conn *websocket.Conn, eventType string) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env protocol.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", eventType)
		if env.Type == eventType {
			return env
		}
	}
}

// expectNone asserts no frame of eventType arrives within d.
func expectNone(t *testing.T, conn *websocket.Conn, eventType string, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		assert.NotEqual(t, eventType, env.Type)
	}
}

func join(t *testing.T, conn *websocket.Conn, conversationID string) protocol.JoinedData {
	t.Helper()
	send(t, conn, protocol.TypeJoin, conversationID, nil)
	env := expect(t, conn, protocol.TypeJoined)
	var joined protocol.JoinedData
	require.NoError(t, env.DecodeData(&joined))
	return joined
}

func TestRealtime_SendReachesSubscribersAndOtherTabs(t *testing.T) {
	env := newRealtimeEnv(t)
	patientTab := env.dial(t, "patient-1")
	patientOtherTab := env.dial(t, "patient-1")
	doctorTab := env.dial(t, "doctor-1")
	env.waitSessions(t, 3)

	joined := join(t, patientTab, env.conv.ID)
	assert.Equal(t, env.conv.ID, joined.Conversation.ID)
	assert.Equal(t, []string{"doctor-1", "patient-1"}, joined.Online)
	join(t, doctorTab, env.conv.ID)

	send(t, patientTab, protocol.TypeSend, env.conv.ID, protocol.SendData{ClientTempID: "c1", Body: "my fever is back"})

	for _, conn := range []*websocket.Conn{patientTab, doctorTab} {
		frame := expect(t, conn, protocol.TypeMessageAppended)
		var data protocol.MessageAppendedData
		require.NoError(t, frame.DecodeData(&data))
		assert.Equal(t, "c1", data.Message.ClientTempID)
		assert.Equal(t, "my fever is back", data.Message.Body)
		assert.NotEmpty(t, data.Message.ID)
	}

	frame := expect(t, patientOtherTab, protocol.TypeConversationUpdated)
	var updated protocol.ConversationUpdatedData
	require.NoError(t, frame.DecodeData(&updated))
	assert.Equal(t, env.conv.ID, updated.Conversation.ID)
	assert.Equal(t, "c1", updated.LastMessage.ClientTempID)
}

func TestRealtime_SendWithoutJoinFailsWithTempID(t *testing.T) {
	env := newRealtimeEnv(t)
	conn := env.dial(t, "patient-1")

	send(t, conn, protocol.TypeSend, env.conv.ID, protocol.SendData{ClientTempID: "c9", Body: "hello"})

	frame := expect(t, conn, protocol.TypeSendFailed)
	var failed protocol.SendFailedData
	require.NoError(t, frame.DecodeData(&failed))
	assert.Equal(t, "c9", failed.ClientTempID)
	assert.Equal(t, errors.CodeFailedPrecondition, failed.Code)
}

func TestRealtime_InvalidSendReportsFailure(t *testing.T) {
	env := newRealtimeEnv(t)
	conn := env.dial(t, "patient-1")
	join(t, conn, env.conv.ID)

	send(t, conn, protocol.TypeSend, env.conv.ID, protocol.SendData{ClientTempID: "c2", Body: "  "})

	frame := expect(t, conn, protocol.TypeSendFailed)
	var failed protocol.SendFailedData
	require.NoError(t, frame.DecodeData(&failed))
	assert.Equal(t, "c2", failed.ClientTempID)
	assert.Equal(t, errors.CodeBadRequest, failed.Code)
}

func TestRealtime_JoinRejectsOutsiders(t *testing.T) {
	env := newRealtimeEnv(t)
	conn := env.dial(t, "doctor-2")

	send(t, conn, protocol.TypeJoin, env.conv.ID, nil)
	frame := expect(t, conn, protocol.TypeError)
	var data protocol.ErrorData
	require.NoError(t, frame.DecodeData(&data))
	assert.Equal(t, errors.CodeNotAParticipant, data.Code)
}

func TestRealtime_TypingSkipsTypistSessions(t *testing.T) {
	env := newRealtimeEnv(t)
	patientTab := env.dial(t, "patient-1")
	doctorTab := env.dial(t, "doctor-1")
	doctorOtherTab := env.dial(t, "doctor-1")
	env.waitSessions(t, 3)
	join(t, patientTab, env.conv.ID)
	join(t, doctorTab, env.conv.ID)
	join(t, doctorOtherTab, env.conv.ID)

	send(t, doctorTab, protocol.TypeTypingStart, env.conv.ID, nil)

	frame := expect(t, patientTab, protocol.TypeTypingChanged)
	var typing protocol.TypingChangedData
	require.NoError(t, frame.DecodeData(&typing))
	assert.Equal(t, "doctor-1", typing.ParticipantID)
	assert.True(t, typing.Typing)

	expectNone(t, doctorOtherTab, protocol.TypeTypingChanged, 200*time.Millisecond)

	send(t, doctorTab, protocol.TypeTypingStop, env.conv.ID, nil)
	frame = expect(t, patientTab, protocol.TypeTypingChanged)
	require.NoError(t, frame.DecodeData(&typing))
	assert.False(t, typing.Typing)
}

func TestRealtime_MarkReadNotifiesCounterpartAndOtherTabs(t *testing.T) {
	env := newRealtimeEnv(t)
	patientTab := env.dial(t, "patient-1")
	doctorTab := env.dial(t, "doctor-1")
	doctorOtherTab := env.dial(t, "doctor-1")
	env.waitSessions(t, 3)
	join(t, patientTab, env.conv.ID)
	join(t, doctorTab, env.conv.ID)

	send(t, patientTab, protocol.TypeSend, env.conv.ID, protocol.SendData{ClientTempID: "c1", Body: "any news?"})
	frame := expect(t, doctorTab, protocol.TypeMessageAppended)
	var appended protocol.MessageAppendedData
	require.NoError(t, frame.DecodeData(&appended))

	send(t, doctorTab, protocol.TypeMarkRead, env.conv.ID, protocol.MarkReadData{MessageID: appended.Message.ID})

	for _, conn := range []*websocket.Conn{patientTab, doctorOtherTab} {
		frame := expect(t, conn, protocol.TypeReadAdvanced)
		var read protocol.ReadAdvancedData
		require.NoError(t, frame.DecodeData(&read))
		assert.Equal(t, "doctor-1", read.ParticipantID)
		assert.Equal(t, appended.Message.ID, read.LastReadMessageID)
	}
	expectNone(t, doctorTab, protocol.TypeReadAdvanced, 200*time.Millisecond)
}

func TestRealtime_PingPong(t *testing.T) {
	env := newRealtimeEnv(t)
	conn := env.dial(t, "patient-1")

	send(t, conn, protocol.TypePing, "", nil)
	expect(t, conn, protocol.TypePong)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	expect(t, conn, protocol.TypeError)
}

func TestRealtime_PresenceChanges(t *testing.T) {
	env := newRealtimeEnv(t)
	patientTab := env.dial(t, "patient-1")
	env.waitSessions(t, 1)
	join(t, patientTab, env.conv.ID)

	doctorTab := env.dial(t, "doctor-1")
	frame := expect(t, patientTab, protocol.TypePresenceChanged)
	var data protocol.PresenceChangedData
	require.NoError(t, frame.DecodeData(&data))
	assert.Equal(t, "doctor-1", data.ParticipantID)
	assert.True(t, data.Online)

	doctorTab.Close()
	frame = expect(t, patientTab, protocol.TypePresenceChanged)
	require.NoError(t, frame.DecodeData(&data))
	assert.False(t, data.Online)
}

func TestHub_SlowConsumerIsDroppedWithoutBlockingOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	hub.Start(ctx)

	conv := entity.NewDirectConversation("patient-1", "doctor-1", time.Now())
	slow := NewSession("slow", identities["patient-1"], nil)
	fast := NewSession("fast", identities["doctor-1"], nil)
	require.True(t, hub.Attach(slow))
	require.True(t, hub.Attach(fast))
	hub.Subscribe(slow, conv)
	hub.Subscribe(fast, conv)

	for i := 0; i < sendBufferSize; i++ {
		slow.Send <- []byte("backlog")
	}

	done := make(chan struct{})
	go func() {
		hub.PublishMessage(conv, &entity.Message{ID: "m1", ConversationID: conv.ID, SenderID: "doctor-1", Kind: entity.MessageText, Body: "hi"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full session")
	}

	select {
	case frame := <-fast.Send:
		assert.Contains(t, string(frame), protocol.TypeMessageAppended)
	default:
		t.Fatal("fast session did not receive the message")
	}
}

func TestSession_StateMachine(t *testing.T) {
	s := NewSession("s1", identities["patient-1"], nil)
	assert.Equal(t, StateAuthenticated, s.State())

	s.subscribe("c1")
	assert.Equal(t, StateSubscribed, s.State())
	assert.True(t, s.IsSubscribed("c1"))

	s.unsubscribe("c1")
	assert.Equal(t, StateAuthenticated, s.State())

	s.subscribe("c2")
	assert.Equal(t, []string{"c2"}, s.markDisconnected())
	assert.Equal(t, StateDisconnected, s.State())

	s.subscribe("c3")
	assert.False(t, s.IsSubscribed("c3"), "a disconnected session cannot subscribe")
}
