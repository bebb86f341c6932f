// Package snippetstore persists named snippet definitions — viseme shapes,
// expression libraries, gaze templates — independently of the live engine
// state. Stored documents use the snippet wire format with intensities on
// the conventional 0–100 scale and an intensity scale of 0.01.
package snippetstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ostrem/visage/internal/engine"
)

// Definition kinds in common use. Kind is a free-form tag; these constants
// only name the conventional values.
const (
	KindViseme     = "viseme"
	KindExpression = "expression"
	KindGaze       = "gaze"
)

// Definition is a stored snippet template plus library metadata.
type Definition struct {
	// ID is the stable library key, unique within the store.
	ID string `json:"id"`

	// Kind groups definitions by producer ("viseme", "expression", ...).
	Kind string `json:"kind,omitempty"`

	// Snippet is the template in wire format. Its Name is the default
	// schedule name; producers typically override it per use.
	Snippet engine.Snippet `json:"snippet"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Validate checks that the definition can be stored.
func (d *Definition) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("snippetstore: definition ID is required"))
	}
	if err := d.Snippet.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Store provides CRUD operations for snippet definitions.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new definition. The definition is validated before
	// insertion. Returns an error if the ID already exists.
	Create(ctx context.Context, def *Definition) error

	// Get retrieves a definition by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, id string) (*Definition, error)

	// Update replaces an existing definition. Returns an error if the ID is
	// not found.
	Update(ctx context.Context, def *Definition) error

	// Delete removes a definition by ID. Deleting a non-existent definition
	// is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all definitions, optionally filtered by kind. An empty
	// kind returns everything.
	List(ctx context.Context, kind string) ([]Definition, error)

	// Upsert creates or replaces a definition (used by the file importer).
	Upsert(ctx context.Context, def *Definition) error
}

// errNotFound formats the shared not-found error text.
func errNotFound(id string) error {
	return fmt.Errorf("snippetstore: definition %q not found", id)
}
