package character

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store lookups when no character with the given
// ID exists.
var ErrNotFound = errors.New("character not found")

// ErrDuplicateID is returned by [Store.Create] when a character with the
// same ID already exists.
var ErrDuplicateID = errors.New("character id already exists")

// Store provides persistence for character sheets.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new character. When ch.ID is empty an ID is
	// generated. Returns the stored character (with ID and timestamps set)
	// or ErrDuplicateID.
	Create(ctx context.Context, ch Character) (Character, error)

	// Get retrieves a character by ID. The error wraps ErrNotFound when
	// absent.
	Get(ctx context.Context, id string) (Character, error)

	// Update replaces an existing character wholesale. The error wraps
	// ErrNotFound when absent.
	Update(ctx context.Context, ch Character) (Character, error)

	// Delete removes a character by ID. Deleting a non-existent character
	// is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all stored characters in creation order.
	List(ctx context.Context) ([]Character, error)
}
