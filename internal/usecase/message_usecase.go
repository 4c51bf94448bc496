package usecase

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/internal/domain/service"
	"carelink/internal/infrastructure/metrics"
	"carelink/internal/infrastructure/ratelimit"
	"carelink/pkg/errors"
	"carelink/pkg/utils"
)

const (
	MaxBodyLength = 4000
	// MaxClientTempIDLength bounds the correlation id clients may attach.
	MaxClientTempIDLength = 64
	sniffLen              = 3072
)

var allowedAttachmentTypes = []string{"application/pdf", "text/plain"}

// MessageUseCase is the message store gateway. Every append to a
// conversation passes through it and is serialized per conversation.
type MessageUseCase struct {
	convRepo    repository.ConversationRepository
	msgRepo     repository.MessageRepository
	uploader    service.BlobUploader
	broadcaster Broadcaster
	rateLimiter *ratelimit.RateLimiter
	locks       *keyedMutex
	maxFileSize int64
}

type AppendInput struct {
	ConversationID string
	ClientTempID   string
	Kind           entity.MessageKind
	Body           string
	Attachment     *entity.Attachment
}

type AttachInput struct {
	ConversationID string
	ClientTempID   string
	FileName       string
	Size           int64
	Content        io.Reader
}

func NewMessageUseCase(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	uploader service.BlobUploader,
	broadcaster Broadcaster,
	rateLimiter *ratelimit.RateLimiter,
	maxFileSize int64,
) *MessageUseCase {
	return &MessageUseCase{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		uploader:    uploader,
		broadcaster: broadcaster,
		rateLimiter: rateLimiter,
		locks:       newKeyedMutex(),
		maxFileSize: maxFileSize,
	}
}

// Append stores a participant-authored message and broadcasts it. Retrying
// with the same ClientTempID returns the message stored the first time.
func (uc *MessageUseCase) Append(ctx context.Context, caller entity.Identity, input AppendInput) (*entity.Message, error) {
	if uc.rateLimiter != nil && !uc.rateLimiter.Allow(caller.ParticipantID, ratelimit.ActionSend) {
		return nil, errors.TooManyRequests("You are sending messages too quickly")
	}

	if err := validateAppend(input); err != nil {
		return nil, err
	}

	conv, err := uc.participantConversation(ctx, caller, input.ConversationID)
	if err != nil {
		return nil, err
	}

	kind := input.Kind
	if kind == "" {
		kind = entity.MessageText
	}

	msg := &entity.Message{
		ConversationID: conv.ID,
		SenderID:       caller.ParticipantID,
		SenderRole:     caller.Role,
		Kind:           kind,
		Body:           strings.TrimSpace(input.Body),
		Attachment:     input.Attachment,
		ClientTempID:   input.ClientTempID,
	}
	return uc.appendAndPublish(ctx, conv, msg)
}

// AppendSystem posts a server-authored message. It bypasses membership and
// open-status checks so a closing notice can be written.
func (uc *MessageUseCase) AppendSystem(ctx context.Context, conversationID, body string) (*entity.Message, error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &entity.Message{
		ConversationID: conv.ID,
		SenderID:       entity.RoleSystem,
		SenderRole:     entity.RoleSystem,
		Kind:           entity.MessageSystem,
		Body:           body,
	}
	return uc.appendAndPublish(ctx, conv, msg)
}

func (uc *MessageUseCase) appendAndPublish(ctx context.Context, conv *entity.Conversation, msg *entity.Message) (*entity.Message, error) {
	unlock := uc.locks.Lock(conv.ID)
	defer unlock()

	stored, err := uc.msgRepo.Append(ctx, msg)
	if err != nil {
		if _, ok := err.(*errors.AppError); !ok {
			err = errors.Transient("Message could not be stored", err)
		}
		metrics.SendFailures.WithLabelValues(errors.CodeOf(err)).Inc()
		log.Printf("Append Error: conversation %s temp %s: %v", conv.ID, msg.ClientTempID, err)
		return nil, err
	}

	metrics.MessagesAppended.WithLabelValues(string(stored.Kind)).Inc()
	conv.LastMessageAt = stored.CreatedAt
	conv.LastMessage = stored.Preview()
	uc.broadcaster.PublishMessage(conv, stored)
	return stored, nil
}

// ListSince returns up to limit messages strictly after cursor, oldest first.
func (uc *MessageUseCase) ListSince(ctx context.Context, caller entity.Identity, conversationID string, params utils.HistoryParams) ([]*entity.Message, error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller.ParticipantID) {
		return nil, errors.NotAParticipant(conversationID)
	}

	messages, err := uc.msgRepo.ListSince(ctx, conv.ID, params.Cursor, utils.ClampLimit(params.Limit))
	if err != nil {
		log.Printf("ListSince Error: conversation %s: %v", conv.ID, err)
		return nil, err
	}
	return messages, nil
}

// AttachFile sniffs the content type, uploads the bytes and appends a file
// message carrying only the descriptor.
func (uc *MessageUseCase) AttachFile(ctx context.Context, caller entity.Identity, input AttachInput) (*entity.Message, error) {
	if uc.uploader == nil {
		return nil, errors.FailedPrecondition("Attachments are not enabled", nil)
	}
	if input.Content == nil || input.FileName == "" {
		return nil, errors.BadRequest("file is required", nil)
	}
	if uc.maxFileSize > 0 && input.Size > uc.maxFileSize {
		return nil, errors.BadRequest("File exceeds the maximum attachment size", nil)
	}
	if len(input.ClientTempID) > MaxClientTempIDLength {
		return nil, errors.BadRequest("client_temp_id is too long", nil)
	}

	if _, err := uc.participantConversation(ctx, caller, input.ConversationID); err != nil {
		return nil, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(input.Content, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.BadRequest("Unable to read file", err)
	}
	head = head[:n]

	mtype := mimetype.Detect(head)
	if !attachmentAllowed(mtype) {
		return nil, errors.BadRequest("File type "+mtype.String()+" is not allowed", nil)
	}

	// The declared size is only a hint; the stream itself is capped.
	var content io.Reader = io.MultiReader(bytes.NewReader(head), input.Content)
	var capped *cappedReader
	if uc.maxFileSize > 0 {
		capped = &cappedReader{r: content, left: uc.maxFileSize}
		content = capped
	}

	attachment, err := uc.uploader.Upload(ctx, input.ConversationID, filepath.Base(input.FileName), mtype.String(), content)
	if capped != nil && capped.exceeded {
		log.Printf("AttachFile Warning: %s for conversation %s is over %d bytes", input.FileName, input.ConversationID, uc.maxFileSize)
		return nil, errors.BadRequest("File exceeds the maximum attachment size", nil)
	}
	if err != nil {
		log.Printf("AttachFile Error: upload for conversation %s: %v", input.ConversationID, err)
		return nil, errors.Transient("Attachment upload failed", err)
	}

	return uc.Append(ctx, caller, AppendInput{
		ConversationID: input.ConversationID,
		ClientTempID:   input.ClientTempID,
		Kind:           entity.MessageFile,
		Attachment:     attachment,
	})
}

var errAttachmentTooLarge = stderrors.New("attachment exceeds the maximum size")

// cappedReader passes through at most left bytes. Reading past the cap fails
// the read, so an uploader copying from it aborts instead of storing a
// truncated file.
type cappedReader struct {
	r        io.Reader
	left     int64
	exceeded bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, errAttachmentTooLarge
	}
	// one byte of lookahead tells a file of exactly the cap from a larger one
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	if int64(n) > c.left {
		c.exceeded = true
		return 0, errAttachmentTooLarge
	}
	c.left -= int64(n)
	return n, err
}

// AttachmentLink returns a URL the caller can fetch the attachment of
// messageID from. Uploaders that keep objects private hand out a signed URL.
func (uc *MessageUseCase) AttachmentLink(ctx context.Context, caller entity.Identity, conversationID, messageID string) (string, error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if !conv.HasParticipant(caller.ParticipantID) {
		return "", errors.NotAParticipant(conversationID)
	}

	msg, err := uc.msgRepo.GetByID(ctx, conv.ID, messageID)
	if err != nil {
		return "", err
	}
	if msg.Attachment == nil {
		return "", errors.NotFound("Attachment", nil)
	}

	signer, ok := uc.uploader.(service.AttachmentSigner)
	if !ok {
		return msg.Attachment.URL, nil
	}
	url, err := signer.SignedURL(msg.Attachment.URL)
	if err != nil {
		return "", errors.Transient("Attachment link could not be created", err)
	}
	return url, nil
}

func (uc *MessageUseCase) participantConversation(ctx context.Context, caller entity.Identity, conversationID string) (*entity.Conversation, error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller.ParticipantID) {
		return nil, errors.NotAParticipant(conversationID)
	}
	if !conv.IsOpen() {
		return nil, errors.FailedPrecondition("Conversation is closed", nil)
	}
	return conv, nil
}

func validateAppend(input AppendInput) error {
	if input.ConversationID == "" {
		return errors.BadRequest("conversation_id is required", nil)
	}
	if len(input.ClientTempID) > MaxClientTempIDLength {
		return errors.BadRequest("client_temp_id is too long", nil)
	}

	switch input.Kind {
	case entity.MessageText, "":
		body := strings.TrimSpace(input.Body)
		if body == "" {
			return errors.BadRequest("Message body cannot be empty", nil)
		}
		if utf8.RuneCountInString(body) > MaxBodyLength {
			return errors.BadRequest("Message body is too long", nil)
		}
		if input.Attachment != nil {
			return errors.BadRequest("Text messages cannot carry an attachment", nil)
		}
	case entity.MessageFile:
		if input.Attachment == nil || input.Attachment.URL == "" {
			return errors.BadRequest("File messages require an uploaded attachment", nil)
		}
	case entity.MessageSystem:
		return errors.BadRequest("System messages cannot be sent by participants", nil)
	default:
		return errors.BadRequest("Unknown message kind "+string(input.Kind), nil)
	}
	return nil
}

func attachmentAllowed(mtype *mimetype.MIME) bool {
	if mtype.Is("image/svg+xml") {
		return false
	}
	if strings.HasPrefix(mtype.String(), "image/") {
		return true
	}
	for _, allowed := range allowedAttachmentTypes {
		if mtype.Is(allowed) {
			return true
		}
	}
	return false
}
