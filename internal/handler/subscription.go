package handler

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/sakif/newsletter/internal/apperror"
	"github.com/sakif/newsletter/internal/model"
)

// MaxBodyBytes caps the size of a subscription form body.
const MaxBodyBytes = 64 << 10

const formContentType = "application/x-www-form-urlencoded"

// Subscriber is the part of the service layer the handler needs.
type Subscriber interface {
	Subscribe(ctx context.Context, sub model.Submission) (*model.Subscriber, error)
}

// SubscriptionHandler serves POST /subscriptions.
type SubscriptionHandler struct {
	service Subscriber
	logger  *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(service Subscriber, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, logger: logger}
}

// HandleSubscribe accepts a url-encoded form with name and email.
//
// HTTP: POST /subscriptions
// REQUEST BODY: name=le%20guin&email=ursula_le_guin%40gmail.com
//
//	200 empty body  subscription saved
//	400 JSON        body unreadable, or a field missing/malformed
//	500 JSON        saving failed (generic message)
//
// The request context already carries the correlation id (see
// middleware.Correlation); it is handed to the service as is.
func (h *SubscriptionHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sub, err := parseSubmission(w, r)
	if err != nil {
		h.logger.WarnContext(ctx, "malformed subscription request", slog.Any("error", err))
		writeError(ctx, h.logger, w, err)
		return
	}

	if _, err := h.service.Subscribe(ctx, sub); err != nil {
		// Already logged by the service or repository.
		writeError(ctx, h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// parseSubmission reads the form body. Values are percent-decoded, unknown
// keys are ignored and, for a repeated key, the first value wins.
//
// The body is parsed directly rather than through r.ParseForm so that a
// missing Content-Type still works and query-string values never leak in.
func parseSubmission(w http.ResponseWriter, r *http.Request) (model.Submission, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != formContentType {
			return model.Submission{}, apperror.Malformed("content type must be "+formContentType, err)
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return model.Submission{}, apperror.Malformed("request body is too large or unreadable", err)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return model.Submission{}, apperror.Malformed("request body is not valid form data", err)
	}

	return model.Submission{
		Email: values.Get("email"),
		Name:  values.Get("name"),
	}, nil
}
