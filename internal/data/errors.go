package data

import (
	"errors"

	"github.com/target/mmk-pageshot/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = model.ErrJobNotFound
	// ErrUnknownKind is returned for a job kind with no backing table.
	ErrUnknownKind = errors.New("unknown job kind")
)
