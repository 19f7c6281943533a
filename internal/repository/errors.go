package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStaleVersion is returned when an optimistic update lost to a concurrent writer.
	ErrStaleVersion = errors.New("entity was modified concurrently")

	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("entity already exists")
)
