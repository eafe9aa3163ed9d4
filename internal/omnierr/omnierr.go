// Package omnierr defines the sentinel error values that make up the
// core's error taxonomy. Call sites wrap these with github.com/rotisserie/eris
// for causal context; errors.Is still classifies the underlying kind.
package omnierr

import "errors"

var (
	// ErrConfig marks invalid YAML, an unknown operation kind, or an
	// invalid version expression. Fatal for the current run.
	ErrConfig = errors.New("configuration error")

	// ErrNotTrusted marks a work directory that has not been trusted.
	// Non-interactive callers exit 3.
	ErrNotTrusted = errors.New("work directory is not trusted")

	// ErrCatalogUnavailable marks a remote catalog that could not be
	// fetched and has no usable cached copy. Fatal for the item,
	// absorbed by composites.
	ErrCatalogUnavailable = errors.New("version catalog unavailable")

	// ErrResolveFailed marks a version expression with no catalog
	// version satisfying its constraint. Fatal for the item.
	ErrResolveFailed = errors.New("no version satisfies constraint")

	// ErrInstallFailed marks an external installer failure: non-zero
	// exit, checksum mismatch, signature failure, malformed archive.
	ErrInstallFailed = errors.New("install failed")

	// ErrStoreBusy marks a cache-store writer-lock timeout. No caller
	// retries it: the write that timed out fails with it.
	ErrStoreBusy = errors.New("cache store busy")

	// ErrStoreIO marks an underlying I/O error in the cache store.
	ErrStoreIO = errors.New("cache store i/o error")

	// ErrStoreCorrupt marks a cache store that failed migration or an
	// integrity check. Fatal.
	ErrStoreCorrupt = errors.New("cache store corrupt")

	// ErrCancelled marks a run aborted by an observed cancellation
	// signal.
	ErrCancelled = errors.New("cancelled")

	// ErrBadEnvDirective marks a malformed line in an $OMNI_ENV file.
	ErrBadEnvDirective = errors.New("bad $OMNI_ENV directive")
)
