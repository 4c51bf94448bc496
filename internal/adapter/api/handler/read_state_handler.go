package handler

import (
	"github.com/labstack/echo/v4"

	"carelink/internal/domain/entity"
	"carelink/internal/usecase"
	"carelink/pkg/response"
)

type ReadStateHandler struct {
	readStateUseCase    *usecase.ReadStateUseCase
	conversationUseCase *usecase.ConversationUseCase
}

func NewReadStateHandler(readStateUseCase *usecase.ReadStateUseCase, conversationUseCase *usecase.ConversationUseCase) *ReadStateHandler {
	return &ReadStateHandler{
		readStateUseCase:    readStateUseCase,
		conversationUseCase: conversationUseCase,
	}
}

type markReadRequest struct {
	MessageID string `json:"message_id" validate:"max=128"`
}

type markReadResponse struct {
	Marker   *entity.ReadMarker `json:"marker"`
	Advanced bool               `json:"advanced"`
}

// MarkRead advances the caller's marker. An empty message_id means "up to
// the newest message". Repeating a call is harmless.
func (h *ReadStateHandler) MarkRead(c echo.Context) error {
	var req markReadRequest
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

	marker, advanced, err := h.readStateUseCase.MarkRead(c.Request().Context(), caller, c.Param("id"), req.MessageID, "")
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, markReadResponse{Marker: marker, Advanced: advanced})
}

// Markers returns both participants' read markers, keyed by participant.
func (h *ReadStateHandler) Markers(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	ctx := c.Request().Context()
	conv, err := h.conversationUseCase.GetConversation(ctx, caller, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	markers := make(map[string]*entity.ReadMarker, 2)
	for _, participantID := range []string{conv.ParticipantA, conv.ParticipantB} {
		marker, err := h.readStateUseCase.GetMarker(ctx, conv.ID, participantID)
		if err != nil {
			return response.Error(c, err)
		}
		markers[participantID] = marker
	}

	return response.Success(c, markers)
}

// UnreadSummary is the full unread recount for the caller.
func (h *ReadStateHandler) UnreadSummary(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	summary, err := h.readStateUseCase.UnreadSummary(c.Request().Context(), caller.ParticipantID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, summary)
}
