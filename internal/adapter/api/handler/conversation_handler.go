package handler

import (
	"github.com/labstack/echo/v4"

	"carelink/internal/usecase"
	"carelink/pkg/response"
)

type ConversationHandler struct {
	conversationUseCase *usecase.ConversationUseCase
}

func NewConversationHandler(conversationUseCase *usecase.ConversationUseCase) *ConversationHandler {
	return &ConversationHandler{
		conversationUseCase: conversationUseCase,
	}
}

type openDirectRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,max=128"`
}

type openAppointmentRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,max=128"`
}

// OpenDirect returns the caller's direct conversation with another
// participant, creating it on first use.
func (h *ConversationHandler) OpenDirect(c echo.Context) error {
	var req openDirectRequest
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

	conv, err := h.conversationUseCase.OpenDirect(c.Request().Context(), caller, req.ParticipantID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conv)
}

func (h *ConversationHandler) OpenForAppointment(c echo.Context) error {
	var req openAppointmentRequest
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

	conv, err := h.conversationUseCase.OpenForAppointment(c.Request().Context(), caller, req.AppointmentID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conv)
}

// List returns the caller's conversations, most recently active first.
func (h *ConversationHandler) List(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	conversations, err := h.conversationUseCase.ListConversationsFor(c.Request().Context(), caller.ParticipantID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversations)
}

func (h *ConversationHandler) Get(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	conv, err := h.conversationUseCase.GetConversation(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conv)
}

func (h *ConversationHandler) Close(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	conv, err := h.conversationUseCase.CloseConversation(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conv)
}
