package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-engine/internal/apperr"
	"github.com/stemsi/exam-engine/internal/middleware"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/service"
)

// statusFor maps an error kind onto its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err into the envelope. Internal failures are logged and their
// details withheld from the client.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	e := apperr.From(err)
	status := statusFor(e.Kind)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
		response.Fail(c, status, response.ErrInternal)
		return
	}
	response.FailWithMessage(c, status, response.ErrCode(e.Code), e.Message)
}

// paramID parses a uuid path parameter, writing a 400 when malformed.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// callerClaims returns the authenticated caller, writing a 401 when absent.
func callerClaims(c *gin.Context) (*service.Claims, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}
	return claims, true
}
