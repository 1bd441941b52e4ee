// Package service contains the business logic layer of the application.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, tags the request, orchestrates
//	Repository (data layer)  → reads/writes to the database
//
// SubscriptionService takes a repository.SubscriptionRepository (interface),
// so tests inject an in-memory fake and main injects the SQL store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/newsletter/internal/apperror"
	"github.com/sakif/newsletter/internal/correlation"
	"github.com/sakif/newsletter/internal/model"
	"github.com/sakif/newsletter/internal/repository"
)

// SubscriptionService validates submissions and persists accepted ones.
type SubscriptionService struct {
	repo      repository.SubscriptionRepository
	validator *Validator
	logger    *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(repo repository.SubscriptionRepository, validator *Validator, logger *slog.Logger) *SubscriptionService {
	return &SubscriptionService{
		repo:      repo,
		validator: validator,
		logger:    logger,
	}
}

// Subscribe validates sub and makes a single persistence attempt.
//
// ctx must carry the request's correlation.Context. Rejections are logged
// here with the request id only; persistence outcomes are logged by the
// repository, under a child context tagged with the subscriber's details.
func (s *SubscriptionService) Subscribe(ctx context.Context, sub model.Submission) (*model.Subscriber, error) {
	subscriber, err := s.validator.Validate(sub)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			s.logger.WarnContext(ctx, "subscription rejected",
				slog.String("reason", appErr.Reason),
				slog.String("field", appErr.Field),
			)
		} else {
			s.logger.ErrorContext(ctx, "subscription validation failed", slog.Any("error", err))
		}
		return nil, err
	}

	ctx = correlation.With(ctx,
		slog.String("subscriber_id", subscriber.ID.String()),
		slog.String("subscriber_email", subscriber.Email),
		slog.String("subscriber_name", subscriber.Name),
	)

	if err := s.repo.Insert(ctx, subscriber); err != nil {
		return nil, fmt.Errorf("subscribing: %w", err)
	}
	return subscriber, nil
}
