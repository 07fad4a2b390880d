package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyReservations: the expert already holds the maximum number of
	// concurrent active reservations.
	ErrTooManyReservations = errors.New("too many active reservations")

	// ErrNotReservedByExpert: confirm/cancel attempted by someone who does
	// not hold the reservation.
	ErrNotReservedByExpert = errors.New("task not reserved by this expert")

	// ErrReservationExpired: the soft claim lapsed before it was confirmed.
	ErrReservationExpired = errors.New("reservation expired")

	// ErrInviteNotFound: no invite with that ID.
	ErrInviteNotFound = errors.New("invite not found")

	// ErrUnauthorized: an expert tried to respond to an invite addressed to
	// someone else.
	ErrUnauthorized = errors.New("invite addressed to a different expert")

	// ErrInviteAlreadyResponded: the invite left the sent state already.
	ErrInviteAlreadyResponded = errors.New("invite already responded")

	// ErrPreconditionFailed: the store's conditional write matched zero rows.
	// Retried once internally with re-validation; surfaces only when the
	// retry loses again.
	ErrPreconditionFailed = errors.New("store precondition failed")
)

// NotOpenError reports a claim against a task that is not open, carrying the
// status the task was actually in.
type NotOpenError struct {
	Status string
}

func (e NotOpenError) Error() string {
	return fmt.Sprintf("task not open (status %s)", e.Status)
}
