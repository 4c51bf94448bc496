package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"carelink/internal/domain/entity"
	"carelink/internal/usecase"
	"carelink/pkg/errors"
	"carelink/pkg/logger"
	"carelink/pkg/response"
	"carelink/pkg/utils"
)

type MessageHandler struct {
	messageUseCase *usecase.MessageUseCase
}

func NewMessageHandler(messageUseCase *usecase.MessageUseCase) *MessageHandler {
	return &MessageHandler{
		messageUseCase: messageUseCase,
	}
}

type sendMessageRequest struct {
	ClientTempID string `json:"client_temp_id" validate:"max=64"`
	Kind         string `json:"kind" validate:"omitempty,oneof=text"`
	Body         string `json:"body" validate:"required,max=4000"`
}

// Send is the HTTP fallback for the realtime send. The stored message is
// broadcast to realtime subscribers exactly as if it had arrived over the
// socket.
func (h *MessageHandler) Send(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	caller, err := callerFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	conversationID := c.Param("id")
	msg, err := h.messageUseCase.Append(c.Request().Context(), caller, usecase.AppendInput{
		ConversationID: conversationID,
		ClientTempID:   req.ClientTempID,
		Kind:           entity.MessageKind(req.Kind),
		Body:           req.Body,
	})
	if err != nil {
		logger.LogSendFailure(conversationID, req.ClientTempID, err)
		return response.Error(c, err)
	}

	return response.Created(c, msg)
}

// History pages forward from ?cursor (exclusive), oldest first.
func (h *MessageHandler) History(c echo.Context) error {
	params, err := utils.GetHistoryParams(c)
	if err != nil {
		return response.Error(c, err)
	}

	caller, err := callerFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	messages, err := h.messageUseCase.ListSince(c.Request().Context(), caller, c.Param("id"), params)
	if err != nil {
		return response.Error(c, err)
	}

	var next string
	if len(messages) == params.Limit {
		next = utils.FormatCursor(messages[len(messages)-1].CreatedAt)
	}
	return response.Page(c, messages, len(messages), next)
}

// Attach accepts a multipart "file" and appends a file message.
func (h *MessageHandler) Attach(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.Error(c, errors.BadRequest("Missing or invalid file", err))
	}

	src, err := file.Open()
	if err != nil {
		return response.Error(c, errors.BadRequest("Unable to read file", err))
	}
	defer src.Close()

	logger.Debug("Attachment %s (%d bytes) for conversation %s", file.Filename, file.Size, c.Param("id"))

	msg, err := h.messageUseCase.AttachFile(c.Request().Context(), caller, usecase.AttachInput{
		ConversationID: c.Param("id"),
		ClientTempID:   c.FormValue("client_temp_id"),
		FileName:       file.Filename,
		Size:           file.Size,
		Content:        src,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, msg)
}

// Download redirects to a fetchable URL for a file message's attachment.
func (h *MessageHandler) Download(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	url, err := h.messageUseCase.AttachmentLink(c.Request().Context(), caller, c.Param("id"), c.Param("messageId"))
	if err != nil {
		return response.Error(c, err)
	}

	return c.Redirect(http.StatusTemporaryRedirect, url)
}
