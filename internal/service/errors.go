package service

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrTenantMismatch    = errors.New("tenant mismatch")
	ErrConflict          = errors.New("conflicting state")
	ErrRequestNotAllowed = errors.New("access request not allowed yet")
	ErrAlreadyGranted    = errors.New("access already granted")
	ErrSweepInProgress   = errors.New("retry sweep already in progress")
)
