package httpadapter

import (
	"net/http"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func mapErrorToHTTPStatus(err error) int {
	switch domain.ErrorCode(err) {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeStageTimeout, domain.CodeRequestTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides internal error text behind the stable code for 5xx responses.
func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = domain.GenericStreamErrorMessage
	}
	writeJSON(w, status, errorBody{Error: message, Code: domain.ErrorCode(err)})
}
