package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"rag-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxDocumentBytes  = 4 << 20
)

type AskUseCase interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
}

type askRequest struct {
	Question     string `json:"question"`
	SessionID    string `json:"sessionId"`
	Document     string `json:"document,omitempty"`
	DocumentName string `json:"documentName,omitempty"`
}

type askResponse struct {
	Answer          string `json:"answer"`
	SessionID       string `json:"sessionId"`
	Route           string `json:"route"`
	DocumentWarning string `json:"documentWarning,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type Handler struct {
	uc     AskUseCase
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(uc AskUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves POST /ask through API Gateway.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	if event.HTTPMethod != "" && event.HTTPMethod != http.MethodPost {
		return h.errorResponse(correlationID, http.StatusMethodNotAllowed, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "method_not_allowed"}), nil
	}

	in, err := decodeRequest(event)
	if err != nil {
		logger.Warn("invalid request", "err", err)
		return h.errorResponse(correlationID, http.StatusBadRequest, err), nil
	}

	out, err := h.uc.Ask(ctx, in)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error("ask failed", "err", err)
		} else {
			logger.Warn("ask rejected", "err", err)
		}
		return h.errorResponse(correlationID, status, err), nil
	}

	logger.Info("ask complete", "session_id", out.SessionID, "route", out.Route.String())
	return jsonResponse(correlationID, http.StatusOK, askResponse{
		Answer:          out.Answer,
		SessionID:       out.SessionID,
		Route:           out.Route.String(),
		DocumentWarning: out.DocumentWarning,
	}), nil
}

func decodeRequest(event events.APIGatewayProxyRequest) (usecase.AskInput, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return usecase.AskInput{}, invalidInput("invalid_body_encoding", err)
		}
		body = decoded
	}

	var req askRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return usecase.AskInput{}, invalidInput("invalid_json", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return usecase.AskInput{}, invalidInput("invalid_json", fmt.Errorf("trailing data: %v", err))
	}

	in := usecase.AskInput{
		Question:     req.Question,
		SessionID:    strings.TrimSpace(req.SessionID),
		DocumentName: strings.TrimSpace(req.DocumentName),
	}
	if req.Document != "" {
		doc, err := base64.StdEncoding.DecodeString(req.Document)
		if err != nil {
			return usecase.AskInput{}, invalidInput("invalid_document_encoding", err)
		}
		if len(doc) > maxDocumentBytes {
			return usecase.AskInput{}, invalidInput("document_too_large", nil)
		}
		in.Document = doc
	}
	return in, nil
}

func invalidInput(reason string, err error) *usecase.Error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reason, Err: err}
}

func statusFor(err error) int {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorClassification, usecase.ErrorSynthesis:
		return http.StatusBadGateway
	case usecase.ErrorConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) errorResponse(correlationID string, status int, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		ucErr = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error", Err: err}
	}
	return jsonResponse(correlationID, status, errorResponse{
		Error:     string(ucErr.Code),
		Reason:    ucErr.Reason,
		Message:   ucErr.UserMessage(),
		SessionID: ucErr.SessionID,
	})
}

func jsonResponse(correlationID string, status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_error"}`)
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

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
