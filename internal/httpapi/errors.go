package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Skufu/deprescribe/internal/clinical"
)

const (
	codeValidation   = "validation_failed"
	codeMalformed    = "malformed_json"
	codeTooLarge     = "payload_too_large"
	codeInternal     = "internal_error"
	codeNotFound     = "not_found"
	codeExportFailed = "export_failed"
)

type errorBody struct {
	Error   string                `json:"error"`
	Message string                `json:"message"`
	Details []clinical.FieldError `json:"details,omitempty"`
}

func abort(c *gin.Context, status int, code, msg string, details []clinical.FieldError) {
	c.AbortWithStatusJSON(status, errorBody{Error: code, Message: msg, Details: details})
}

// bindJSON decodes the body into v and writes the error response itself when
// that fails.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, codeTooLarge, "request body is too large", nil)
			return false
		}
		_ = c.Error(err)
		abort(c, http.StatusBadRequest, codeMalformed, "request body is not valid JSON: "+err.Error(), nil)
		return false
	}
	return true
}

// fail maps a service error onto a response. Validation problems are the
// caller's fault; anything else is ours.
func fail(c *gin.Context, err error) {
	var ve *clinical.ValidationError
	if errors.As(err, &ve) {
		abort(c, http.StatusUnprocessableEntity, codeValidation, "request failed validation", ve.Fields)
		return
	}
	_ = c.Error(err)
	abort(c, http.StatusInternalServerError, codeInternal, "internal server error", nil)
}
