package handler

import (
	"github.com/labstack/echo/v4"

	"carelink/internal/adapter/api/middleware"
	"carelink/internal/domain/entity"
	"carelink/internal/usecase"
	"carelink/pkg/errors"
)

var (
	conversationHandler *ConversationHandler
	messageHandler      *MessageHandler
	readStateHandler    *ReadStateHandler
)

func Setup(
	conversationUseCase *usecase.ConversationUseCase,
	messageUseCase *usecase.MessageUseCase,
	readStateUseCase *usecase.ReadStateUseCase,
) {
	conversationHandler = NewConversationHandler(conversationUseCase)
	messageHandler = NewMessageHandler(messageUseCase)
	readStateHandler = NewReadStateHandler(readStateUseCase, conversationUseCase)
}

func GetConversationHandler() *ConversationHandler {
	return conversationHandler
}

func GetMessageHandler() *MessageHandler {
	return messageHandler
}

func GetReadStateHandler() *ReadStateHandler {
	return readStateHandler
}

func callerFrom(c echo.Context) (entity.Identity, error) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return entity.Identity{}, errors.Unauthenticated("Authentication required", nil)
	}
	return identity, nil
}
