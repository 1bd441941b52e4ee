package repository

import (
	"context"

	"github.com/sakif/newsletter/internal/model"
)

// SubscriptionRepository persists validated subscribers.
//
// Insert makes exactly one attempt. Any storage failure is reported as an
// error wrapping apperror.ErrPersistence.
type SubscriptionRepository interface {
	Insert(ctx context.Context, sub *model.Subscriber) error
}
