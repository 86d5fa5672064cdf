package domain

import "errors"

var (
	// ErrNotFound is returned when a message does not exist in the store.
	ErrNotFound = errors.New("message not found")
	// ErrNoDueMessages is returned by the claim query when nothing is due.
	ErrNoDueMessages = errors.New("no due messages")
	// ErrInvalidTransition is returned on a status change that would move
	// the message backwards in its lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoChannels is returned when a message is created without channels.
	ErrNoChannels = errors.New("message requires at least one channel")
	// ErrDuplicateChannel is returned when the channel set contains duplicates.
	ErrDuplicateChannel = errors.New("duplicate channel in channel set")
)
