package service

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidBooking    = errors.New("invalid booking")
	ErrViewNotFound      = errors.New("tracking view not found")
	ErrRateLimited       = errors.New("too many location updates")
)
