package services

import (
	"fmt"
	"net/http"
)

// Fehlercodes der Service-Schicht. Sie werden unverändert an den API-Rand
// durchgereicht und dort auf HTTP-Status abgebildet.
const (
	CodeInvalidTopic        = "INVALID_TOPIC"
	CodeInvalidPersona      = "INVALID_PERSONA"
	CodePersonaNotFound     = "PERSONA_NOT_FOUND"
	CodeGenerationFailed    = "GENERATION_FAILED"
	CodePostNotFound        = "POST_NOT_FOUND"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeInvalidAction       = "INVALID_ACTION"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeQueueUnavailable    = "QUEUE_UNAVAILABLE"
	CodeBillingError        = "BILLING_ERROR"
	CodeAuthError           = "AUTH_ERROR"
	CodeAPIRequestError     = "API_REQUEST_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
)

// ServiceError ist ein Fehler mit stabilem Code und optionalen Details.
// Interne Fehlertexte (Stacktraces etc.) gehören nie in Message.
type ServiceError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewServiceError erstellt einen ServiceError ohne Details.
func NewServiceError(code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// HTTPStatus bildet den Fehlercode auf einen HTTP-Status ab.
func (e *ServiceError) HTTPStatus() int {
	switch e.Code {
	case CodePostNotFound, CodePersonaNotFound, CodeJobNotFound:
		return http.StatusNotFound
	case CodeInvalidTopic, CodeInvalidPersona, CodeInvalidAction, CodeAPIRequestError:
		return http.StatusBadRequest
	case CodeAuthError:
		return http.StatusUnauthorized
	case CodeBillingError:
		return http.StatusPaymentRequired
	case CodeProviderUnavailable, CodeQueueUnavailable:
		return http.StatusServiceUnavailable
	case CodeGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
