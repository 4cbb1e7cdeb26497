package models

import (
	"github.com/cockroachdb/errors"
)

// Errors shared by the registry, the ledgers and the bridge router
var (
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrNotEligibleValidator = errors.New("validator is not eligible")
	ErrBlockNotFound        = errors.New("block not found")
)
