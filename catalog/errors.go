package catalog

import "errors"

var (
	// ErrDuplicateCapability is returned when a function with the same
	// (namespace, name) is already registered.
	ErrDuplicateCapability = errors.New("duplicate capability")

	// ErrCycleDetected is returned when a folder would contain itself.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrUnknownElement is returned for ids the catalog does not know.
	ErrUnknownElement = errors.New("unknown element")

	// ErrNotFolder is returned when children are added to a function.
	ErrNotFolder = errors.New("element is not a folder")

	// ErrCatalogFrozen is returned by mutations after Freeze.
	ErrCatalogFrozen = errors.New("catalog is frozen")

	// ErrDuplicateName is returned when a context exposes two functions
	// under the same identifier.
	ErrDuplicateName = errors.New("duplicate identifier in context")

	// ErrUnknownContext is returned for context ids that are not loaded.
	ErrUnknownContext = errors.New("unknown context")

	// ErrInvalidIdentifier is returned for names rule code could not call.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)
