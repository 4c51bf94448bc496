package handler

import (
	"github.com/labstack/echo/v4"

	"carelink/internal/domain/repository"
	"carelink/internal/infrastructure/identity"
	"carelink/pkg/response"
)

type DevTokenHandler struct {
	issuer    *identity.JWTResolver
	directory repository.ParticipantDirectory
}

var devTokenHandler *DevTokenHandler

func NewDevTokenHandler(issuer *identity.JWTResolver, directory repository.ParticipantDirectory) *DevTokenHandler {
	return &DevTokenHandler{
		issuer:    issuer,
		directory: directory,
	}
}

func SetupDevTokenHandler(issuer *identity.JWTResolver, directory repository.ParticipantDirectory) {
	devTokenHandler = NewDevTokenHandler(issuer, directory)
}

func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}

// IssueToken signs a token for an existing participant. Only mounted in
// development with the jwt identity provider.
func (h *DevTokenHandler) IssueToken(c echo.Context) error {
	participant, err := h.directory.GetParticipant(c.Request().Context(), c.Param("participantId"))
	if err != nil {
		return response.Error(c, err)
	}

	token, err := h.issuer.Issue(participant.ID, participant.Role)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"token":       token,
		"participant": participant,
	})
}
