package data

import (
	"fmt"
	"strings"
)

// DatasetKind identifies which category of data a database serves.
type DatasetKind string

const (
	// NetworkOwnership is an autonomous-system database (GeoLite2-ASN and compatibles).
	NetworkOwnership DatasetKind = "asn"
	// CityGeo is a place database (GeoLite2-City or GeoLite2-Country).
	CityGeo DatasetKind = "city"
)

// AllKinds lists every supported kind in reporting order.
var AllKinds = []DatasetKind{NetworkOwnership, CityGeo}

// ParseDatasetKind converts a configuration value into a DatasetKind.
func ParseDatasetKind(s string) (DatasetKind, error) {
	switch DatasetKind(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkOwnership:
		return NetworkOwnership, nil
	case CityGeo:
		return CityGeo, nil
	}
	return "", fmt.Errorf("unknown dataset kind %q", s)
}

func (k DatasetKind) String() string {
	return string(k)
}

// accepts reports whether a database with the given metadata type can serve k.
func (k DatasetKind) accepts(databaseType string) bool {
	switch k {
	case NetworkOwnership:
		return strings.Contains(databaseType, "ASN") || strings.Contains(databaseType, "ISP")
	case CityGeo:
		return strings.Contains(databaseType, "City") || strings.Contains(databaseType, "Country")
	}
	return false
}

func kindOrder(k DatasetKind) int {
	for i, known := range AllKinds {
		if known == k {
			return i
		}
	}
	return len(AllKinds)
}
