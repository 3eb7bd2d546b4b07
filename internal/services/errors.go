// Package services defines the business logic of the message pipeline: intake
// admission, per-type dispatch, receipt duplicate detection, and outbound
// responses. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrAlreadyOwned is returned when an ownership transition requests the
	// state the conversation is already in.
	ErrAlreadyOwned = errors.New("conversation already has that owner")

	// ErrEmptyText is returned when an outbound send carries no text.
	ErrEmptyText = errors.New("message text is empty")
)
