// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Submission is the raw form data posted to /subscriptions.
// Values are percent-decoded but otherwise untouched.
type Submission struct {
	Email string `validate:"required,plaintext,max=320,email"`
	Name  string `validate:"required,plaintext,max=256,safename"`
}

// Subscriber is a submission that passed validation.
//
// ID and SubscribedAt are assigned once, at validation time, so the
// repository never invents identity or shifts the timestamp.
type Subscriber struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	SubscribedAt time.Time `json:"subscribedAt"`
}
