package data

import (
	"errors"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// Source names the file that should back one dataset kind.
type Source struct {
	Kind DatasetKind
	Path string
}

// Registry holds the handles opened at startup. The key set and the
// loaded/failed state of every key are fixed once Open returns.
type Registry struct {
	kinds   []DatasetKind
	paths   map[DatasetKind]string
	handles map[DatasetKind]*Handle
	errs    map[DatasetKind]error
}

// DatasetInfo describes one configured dataset for the metadata endpoint.
type DatasetInfo struct {
	Kind         DatasetKind       `json:"kind"`
	Path         string            `json:"path"`
	Loaded       bool              `json:"loaded"`
	Error        string            `json:"error,omitempty"`
	DatabaseType string            `json:"database_type,omitempty"`
	BuildTime    *time.Time        `json:"build_time,omitempty"`
	Age          string            `json:"age,omitempty"`
	IPVersion    uint              `json:"ip_version,omitempty"`
	NodeCount    uint              `json:"node_count,omitempty"`
	RecordSize   uint              `json:"record_size,omitempty"`
	Languages    []string          `json:"languages,omitempty"`
	Description  map[string]string `json:"description,omitempty"`
	Size         string            `json:"size,omitempty"`
}

// Open tries to load every source. A source that fails is logged and kept
// as unavailable; the other sources still load.
func Open(sources []Source, opts HandleOptions, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		paths:   make(map[DatasetKind]string, len(sources)),
		handles: make(map[DatasetKind]*Handle, len(sources)),
		errs:    make(map[DatasetKind]error),
	}

	for _, src := range sources {
		if _, dup := r.paths[src.Kind]; dup {
			logger.Error("dataset configured twice, keeping the first", "dataset", src.Kind, "path", src.Path)
			continue
		}
		r.paths[src.Kind] = src.Path
		r.kinds = append(r.kinds, src.Kind)

		h, err := OpenHandle(src.Kind, src.Path, opts)
		if err != nil {
			r.errs[src.Kind] = err
			logger.Error("failed to load dataset", "dataset", src.Kind, "path", src.Path, "error", err)
			continue
		}
		r.handles[src.Kind] = h

		md := h.Metadata()
		attrs := []any{
			"dataset", src.Kind,
			"path", src.Path,
			"database_type", md.DatabaseType,
			"build_time", h.BuildTime().Format(time.RFC3339),
		}
		if fi, err := os.Stat(src.Path); err == nil {
			attrs = append(attrs, "size", humanize.Bytes(uint64(fi.Size())))
		}
		logger.Info("dataset loaded", attrs...)
	}

	sort.SliceStable(r.kinds, func(i, j int) bool {
		return kindOrder(r.kinds[i]) < kindOrder(r.kinds[j])
	})

	return r
}

// Kinds returns the configured dataset kinds, loaded or not.
func (r *Registry) Kinds() []DatasetKind {
	out := make([]DatasetKind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// HandleFor returns the handle for kind if it loaded.
func (r *Registry) HandleFor(kind DatasetKind) (*Handle, bool) {
	h, ok := r.handles[kind]
	return h, ok
}

// Err returns the load error recorded for kind, if any.
func (r *Registry) Err(kind DatasetKind) error {
	return r.errs[kind]
}

// Health reports which configured datasets are loaded. A registry with no
// configured datasets is never reported as fully loaded.
func (r *Registry) Health() HealthStatus {
	status := HealthStatus{
		Datasets:  make(map[DatasetKind]bool, len(r.kinds)),
		AllLoaded: len(r.kinds) > 0,
	}
	for _, kind := range r.kinds {
		_, loaded := r.handles[kind]
		status.Datasets[kind] = loaded
		if !loaded {
			status.AllLoaded = false
		}
	}
	return status
}

// Datasets describes every configured dataset.
func (r *Registry) Datasets() []DatasetInfo {
	out := make([]DatasetInfo, 0, len(r.kinds))
	for _, kind := range r.kinds {
		info := DatasetInfo{Kind: kind, Path: r.paths[kind]}

		h, ok := r.handles[kind]
		if !ok {
			if err := r.errs[kind]; err != nil {
				info.Error = err.Error()
			}
			out = append(out, info)
			continue
		}

		md := h.Metadata()
		built := h.BuildTime()
		info.Loaded = true
		info.DatabaseType = md.DatabaseType
		info.BuildTime = &built
		info.Age = humanize.Time(built)
		info.IPVersion = md.IPVersion
		info.NodeCount = md.NodeCount
		info.RecordSize = md.RecordSize
		info.Languages = md.Languages
		info.Description = md.Description
		if fi, err := os.Stat(h.Path()); err == nil {
			info.Size = humanize.Bytes(uint64(fi.Size()))
		}
		out = append(out, info)
	}
	return out
}

// Close releases every handle.
func (r *Registry) Close() error {
	var errs []error
	for _, h := range r.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
