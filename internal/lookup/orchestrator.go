package lookup

import (
	"log/slog"

	"github.com/TomasB/geolookup/internal/address"
	"github.com/TomasB/geolookup/internal/data"
	"github.com/TomasB/geolookup/internal/metrics"
	"github.com/oschwald/geoip2-golang"
)

// DefaultLanguage is used for names when no language is configured, and as
// the fallback when a name is missing in the configured language.
const DefaultLanguage = "en"

// Orchestrator queries every dataset of a registry and merges the results.
// It holds no mutable state and is safe for concurrent use.
type Orchestrator struct {
	registry *data.Registry
	language string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLanguage selects the language of place names.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) {
		if lang != "" {
			o.language = lang
		}
	}
}

// WithLogger sets the logger for query failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records outcomes and per-dataset states.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator over registry.
func New(registry *data.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		language: DefaultLanguage,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolve looks addr up in every configured dataset. A dataset that is not
// loaded is reported as unavailable without affecting the others.
func (o *Orchestrator) Resolve(addr address.Address) Outcome {
	kinds := o.registry.Kinds()
	out := Outcome{
		Address:  addr,
		Datasets: make(map[data.DatasetKind]DatasetState, len(kinds)),
	}

	var hits, loaded int
	for _, kind := range kinds {
		h, ok := o.registry.HandleFor(kind)
		if !ok {
			out.Datasets[kind] = StateUnavailable
			out.Unavailable = append(out.Unavailable, kind)
			o.metrics.ObserveDatasetQuery(kind.String(), string(StateUnavailable))
			continue
		}
		loaded++

		state := Miss
		if o.query(h, addr, &out.Record) {
			state = Hit
			hits++
		}
		out.Datasets[kind] = state
		o.metrics.ObserveDatasetQuery(kind.String(), string(state))
	}

	switch {
	case hits > 0:
		out.Kind = Resolved
		out.Summary = summary(out.Record)
	case loaded == 0:
		out.Kind = Unavailable
	default:
		out.Kind = NotFound
	}

	o.metrics.ObserveOutcome(out.Kind.String())
	return out
}

// query fills the record group served by h. A query error is logged and
// treated as a miss.
func (o *Orchestrator) query(h *data.Handle, addr address.Address, rec *Record) bool {
	switch h.Kind() {
	case data.NetworkOwnership:
		var asn geoip2.ASN
		found, err := h.Query(addr, &asn)
		if err != nil {
			o.logger.Warn("dataset query failed", "dataset", h.Kind(), "ip", addr.String(), "error", err)
			return false
		}
		if found {
			rec.Network = &Network{
				ASN:          asn.AutonomousSystemNumber,
				Organization: asn.AutonomousSystemOrganization,
			}
		}
		return found

	case data.CityGeo:
		var city geoip2.City
		found, err := h.Query(addr, &city)
		if err != nil {
			o.logger.Warn("dataset query failed", "dataset", h.Kind(), "ip", addr.String(), "error", err)
			return false
		}
		if found {
			rec.Place = o.place(&city)
		}
		return found
	}

	return false
}

func (o *Orchestrator) place(c *geoip2.City) *Place {
	p := &Place{
		City:       o.name(c.City.Names),
		PostalCode: c.Postal.Code,
	}

	if c.Continent.Code != "" || len(c.Continent.Names) > 0 {
		p.Continent = &Area{Code: c.Continent.Code, Name: o.name(c.Continent.Names)}
	}
	if c.Country.IsoCode != "" || len(c.Country.Names) > 0 {
		p.Country = &Area{Code: c.Country.IsoCode, Name: o.name(c.Country.Names)}
	}
	if len(c.Subdivisions) > 0 {
		sd := c.Subdivisions[0]
		p.Region = &Area{Code: sd.IsoCode, Name: o.name(sd.Names)}
	}

	loc := c.Location
	if loc.Latitude != 0 || loc.Longitude != 0 || loc.AccuracyRadius != 0 || loc.TimeZone != "" {
		p.Location = &Location{
			Latitude:       loc.Latitude,
			Longitude:      loc.Longitude,
			AccuracyRadius: loc.AccuracyRadius,
			TimeZone:       loc.TimeZone,
		}
	}

	return p
}

func (o *Orchestrator) name(names map[string]string) string {
	if n := names[o.language]; n != "" {
		return n
	}
	return names[DefaultLanguage]
}
