package data

import (
	"fmt"
	"time"

	"github.com/TomasB/geolookup/internal/address"
	"github.com/oschwald/maxminddb-golang"
)

// HandleOptions tunes how a database file is opened.
type HandleOptions struct {
	// Verify walks the whole search tree after opening. Slow for large files.
	Verify bool
}

// Handle is an opened, memory-mapped MaxMind DB serving one dataset kind.
// It is never mutated after OpenHandle returns, so Query is safe for any
// number of concurrent callers.
type Handle struct {
	kind DatasetKind
	path string
	db   *maxminddb.Reader
}

// OpenHandle maps the MMDB file at path and checks that its database type
// fits kind. Every failure is returned as a *LoadError.
func OpenHandle(kind DatasetKind, path string, opts HandleOptions) (*Handle, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, &LoadError{Kind: kind, Path: path, Err: fmt.Errorf("failed to open MMDB file: %w", err)}
	}

	if !kind.accepts(db.Metadata.DatabaseType) {
		db.Close()
		return nil, &LoadError{
			Kind: kind,
			Path: path,
			Err:  fmt.Errorf("%w: %q", ErrWrongDatabaseType, db.Metadata.DatabaseType),
		}
	}

	if opts.Verify {
		if err := db.Verify(); err != nil {
			db.Close()
			return nil, &LoadError{Kind: kind, Path: path, Err: fmt.Errorf("MMDB verification failed: %w", err)}
		}
	}

	return &Handle{kind: kind, path: path, db: db}, nil
}

// Query decodes the record for addr into result. A clean miss returns
// false with a nil error; errors are reserved for corrupt data.
func (h *Handle) Query(addr address.Address, result any) (bool, error) {
	if h.db.Metadata.IPVersion == 4 && !addr.Is4() {
		return false, nil
	}

	_, found, err := h.db.LookupNetwork(addr.IP(), result)
	if err != nil {
		return false, fmt.Errorf("%s lookup failed: %w", h.kind, err)
	}
	return found, nil
}

// Kind returns the dataset kind the handle serves.
func (h *Handle) Kind() DatasetKind {
	return h.kind
}

// Path returns the file the handle was opened from.
func (h *Handle) Path() string {
	return h.path
}

// Metadata returns the database metadata section.
func (h *Handle) Metadata() maxminddb.Metadata {
	return h.db.Metadata
}

// BuildTime returns the database build time in UTC.
func (h *Handle) BuildTime() time.Time {
	return time.Unix(int64(h.db.Metadata.BuildEpoch), 0).UTC()
}

// Close unmaps the database. Only called at shutdown.
func (h *Handle) Close() error {
	return h.db.Close()
}
