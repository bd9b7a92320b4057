// Package handler adapts the translation service to API Gateway proxy
// events for the Lambda deployment.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chat-translator/internal/domain"
)

const correlationHeader = "X-Correlation-Id"

type Translator interface {
	Translate(ctx context.Context, msg domain.Message) (domain.Outcome, error)
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type Handler struct {
	svc Translator
}

func NewHandler(svc Translator) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: translator must not be nil")
	}
	return &Handler{svc: svc}, nil
}

// Handle decodes a chat message from the request body and responds with the
// outcome view. Only malformed requests produce a non-200 status; failed
// translations are a 200 with outcome "failed".
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := slog.With("correlation_id", correlationID)

	var msg domain.Message
	if err := json.Unmarshal([]byte(req.Body), &msg); err != nil {
		logger.Warn("invalid request body", "err", err)
		return respond(http.StatusBadRequest, correlationID, errorResponse{
			Error:  string(domain.ErrorInvalidInput),
			Reason: "invalid_json",
		}), nil
	}

	outcome, err := h.svc.Translate(ctx, msg)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Code == domain.ErrorInvalidInput {
			return respond(http.StatusBadRequest, correlationID, errorResponse{
				Error:  string(derr.Code),
				Reason: derr.Reason,
			}), nil
		}
		logger.Error("translate failed", "err", err)
		return respond(http.StatusInternalServerError, correlationID, errorResponse{Error: "INTERNAL_ERROR"}), nil
	}
	if outcome.Kind == domain.OutcomeFailed {
		logger.Error("translation failed", "conversation_id", msg.ConversationID, "reason", outcome.Reason, "err", outcome.Err)
	}
	return respond(http.StatusOK, correlationID, domain.NewOutcomeView(msg, outcome)), nil
}

func respond(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}
}

// headerValue looks up name case-insensitively; API Gateway preserves the
// client's casing.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
