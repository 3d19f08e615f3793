// Package lookup merges the answers of every configured dataset into one
// outcome per address.
package lookup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TomasB/geolookup/internal/address"
	"github.com/TomasB/geolookup/internal/data"
)

// OutcomeKind classifies a lookup.
type OutcomeKind int

const (
	// Resolved means at least one dataset had an entry.
	Resolved OutcomeKind = iota
	// NotFound means every loaded dataset missed.
	NotFound
	// Unavailable means no configured dataset is loaded.
	Unavailable
	// InvalidAddress means the subject could not be parsed.
	InvalidAddress
)

var outcomeNames = map[OutcomeKind]string{
	Resolved:       "resolved",
	NotFound:       "not_found",
	Unavailable:    "unavailable",
	InvalidAddress: "invalid_address",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return "outcome(" + strconv.Itoa(int(k)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	for kind, name := range outcomeNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// DatasetState is the per-dataset result of one lookup.
type DatasetState string

const (
	Hit              DatasetState = "hit"
	Miss             DatasetState = "miss"
	StateUnavailable DatasetState = "unavailable"
)

// Network is the network-ownership part of a record.
type Network struct {
	ASN          uint   `json:"asn"`
	Organization string `json:"organization,omitempty"`
}

// Area is a named, coded geographic area.
type Area struct {
	Code string `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
}

// Location is the coordinate part of a place.
type Location struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyRadius uint16  `json:"accuracy_radius,omitempty"`
	TimeZone       string  `json:"time_zone,omitempty"`
}

// Place is the geographic part of a record. Fields the database does not
// carry stay empty.
type Place struct {
	Continent  *Area     `json:"continent,omitempty"`
	Country    *Area     `json:"country,omitempty"`
	Region     *Area     `json:"region,omitempty"`
	City       string    `json:"city,omitempty"`
	PostalCode string    `json:"postal_code,omitempty"`
	Location   *Location `json:"location,omitempty"`
}

// Record is the merged data for one address. A group is nil when its
// dataset missed or is unavailable.
type Record struct {
	Network *Network `json:"network"`
	Place   *Place   `json:"place"`
}

// Outcome is the result of resolving one address.
type Outcome struct {
	Kind    OutcomeKind     `json:"outcome"`
	Address address.Address `json:"address"`
	Record
	Datasets    map[data.DatasetKind]DatasetState `json:"datasets"`
	Unavailable []data.DatasetKind                `json:"unavailable,omitempty"`
	Summary     string                            `json:"summary,omitempty"`
}

// summary renders "<CITY>,<REGION>/<COUNTRY>; <ORG> (<ASN>);" with "-" for
// every missing part.
func summary(r Record) string {
	city, region, country := "-", "-", "-"
	org, asn := "-", "-"

	if p := r.Place; p != nil {
		if p.City != "" {
			city = p.City
		}
		if p.Region != nil && p.Region.Code != "" {
			region = p.Region.Code
		}
		if p.Country != nil && p.Country.Code != "" {
			country = p.Country.Code
		}
	}
	if n := r.Network; n != nil {
		if n.Organization != "" {
			org = n.Organization
		}
		asn = strconv.FormatUint(uint64(n.ASN), 10)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s,%s/%s; %s (%s);", city, region, country, org, asn)
	return b.String()
}
