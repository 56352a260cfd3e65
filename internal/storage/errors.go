package storage

import "errors"

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned when a unique constraint rejects an insert,
	// notably the (workflow_instance_id, node_id) index on task_instances
	ErrConflict = errors.New("resource already exists")

	// ErrStaleState is returned when a compare-and-swap status update
	// matched no rows because the row was no longer in the expected state
	ErrStaleState = errors.New("state changed concurrently")
)
