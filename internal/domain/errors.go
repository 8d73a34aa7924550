package domain

import "errors"

// Sentinel errors shared across packages. Wrap with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	// ErrInvalidRequest marks malformed input. Fatal: no partial result is produced.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidConcentration is returned when a finished-product conversion
	// is attempted with a non-positive fragrance concentration.
	ErrInvalidConcentration = errors.New("invalid fragrance concentration")

	// ErrReferenceDataMissing means no applicable reference table exists for a
	// market/family pair. Non-fatal: it becomes a DataGap on the report.
	ErrReferenceDataMissing = errors.New("reference data missing")

	// ErrNotFound is returned by repositories for unknown IDs.
	ErrNotFound = errors.New("not found")
)
