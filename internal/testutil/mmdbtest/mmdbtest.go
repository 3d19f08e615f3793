// Package mmdbtest writes small MaxMind DB files for tests so lookups can be
// exercised against real databases instead of mocks.
package mmdbtest

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
)

// BuildTime is the build epoch stamped into every fixture.
var BuildTime = time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)

// ASNEntry is one network of an ASN fixture.
type ASNEntry struct {
	Network      string
	Number       uint32
	Organization string
}

// CityEntry is one network of a city fixture. Empty fields are left out of
// the written record.
type CityEntry struct {
	Network        string
	ContinentCode  string
	ContinentName  string
	CountryCode    string
	CountryName    string
	RegionCode     string
	RegionName     string
	City           string
	CityNames      map[string]string
	PostalCode     string
	Latitude       float64
	Longitude      float64
	AccuracyRadius uint16
	TimeZone       string
}

// DefaultASN covers 8.8.8.0/24, 1.1.1.0/24 and 2001:4860::/32.
var DefaultASN = []ASNEntry{
	{Network: "8.8.8.0/24", Number: 15169, Organization: "GOOGLE"},
	{Network: "1.1.1.0/24", Number: 13335, Organization: "CLOUDFLARENET"},
	{Network: "2001:4860::/32", Number: 15169, Organization: "GOOGLE"},
}

// DefaultCity covers 8.8.8.0/24, 81.2.69.0/24, 2.125.160.0/24 (country only)
// and 2001:4860::/32.
var DefaultCity = []CityEntry{
	{
		Network:        "8.8.8.0/24",
		ContinentCode:  "NA",
		ContinentName:  "North America",
		CountryCode:    "US",
		CountryName:    "United States",
		RegionCode:     "CA",
		RegionName:     "California",
		City:           "Mountain View",
		CityNames:      map[string]string{"de": "Mountain View", "ja": "マウンテンビュー"},
		PostalCode:     "94035",
		Latitude:       37.386,
		Longitude:      -122.0838,
		AccuracyRadius: 1000,
		TimeZone:       "America/Los_Angeles",
	},
	{
		Network:        "81.2.69.0/24",
		ContinentCode:  "EU",
		ContinentName:  "Europe",
		CountryCode:    "GB",
		CountryName:    "United Kingdom",
		RegionCode:     "ENG",
		RegionName:     "England",
		City:           "London",
		CityNames:      map[string]string{"de": "London"},
		Latitude:       51.5142,
		Longitude:      -0.0931,
		AccuracyRadius: 10,
		TimeZone:       "Europe/London",
	},
	{
		Network:       "2.125.160.0/24",
		ContinentCode: "EU",
		ContinentName: "Europe",
		CountryCode:   "GB",
		CountryName:   "United Kingdom",
	},
	{
		Network:       "2001:4860::/32",
		ContinentCode: "NA",
		ContinentName: "North America",
		CountryCode:   "US",
		CountryName:   "United States",
	},
}

// WriteASN writes a GeoLite2-ASN fixture and returns its path.
func WriteASN(t testing.TB, entries ...ASNEntry) string {
	t.Helper()

	records := make(map[string]mmdbtype.Map, len(entries))
	for _, e := range entries {
		records[e.Network] = mmdbtype.Map{
			"autonomous_system_number":       mmdbtype.Uint32(e.Number),
			"autonomous_system_organization": mmdbtype.String(e.Organization),
		}
	}

	return Write(t, "GeoLite2-ASN", 6, records)
}

// WriteCity writes a GeoLite2-City fixture and returns its path.
func WriteCity(t testing.TB, entries ...CityEntry) string {
	t.Helper()

	records := make(map[string]mmdbtype.Map, len(entries))
	for _, e := range entries {
		records[e.Network] = cityRecord(e)
	}

	return Write(t, "GeoLite2-City", 6, records)
}

// Write writes an arbitrary fixture keyed by CIDR.
func Write(t testing.TB, databaseType string, ipVersion int, records map[string]mmdbtype.Map) string {
	t.Helper()

	tree, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType:            databaseType,
		Description:             map[string]string{"en": databaseType + " test fixture"},
		Languages:               []string{"en", "de"},
		IPVersion:               ipVersion,
		RecordSize:              24,
		BuildEpoch:              BuildTime.Unix(),
		IncludeReservedNetworks: true,
	})
	if err != nil {
		t.Fatalf("failed to create mmdb writer: %v", err)
	}

	for cidr, record := range records {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			t.Fatalf("bad fixture network %q: %v", cidr, err)
		}
		if err := tree.Insert(network, record); err != nil {
			t.Fatalf("failed to insert %s: %v", cidr, err)
		}
	}

	path := filepath.Join(t.TempDir(), databaseType+".mmdb")
	fp, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create fixture file: %v", err)
	}
	defer fp.Close()

	if _, err := tree.WriteTo(fp); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	return path
}

// WriteGarbage writes a file that is not a MaxMind DB.
func WriteGarbage(t testing.TB) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "garbage.mmdb")
	if err := os.WriteFile(path, []byte("this is not a maxmind database"), 0o644); err != nil {
		t.Fatalf("failed to write garbage file: %v", err)
	}
	return path
}

func cityRecord(e CityEntry) mmdbtype.Map {
	record := mmdbtype.Map{}

	if e.ContinentCode != "" {
		record["continent"] = mmdbtype.Map{
			"code":  mmdbtype.String(e.ContinentCode),
			"names": names(e.ContinentName, nil),
		}
	}
	if e.CountryCode != "" {
		record["country"] = mmdbtype.Map{
			"iso_code": mmdbtype.String(e.CountryCode),
			"names":    names(e.CountryName, nil),
		}
	}
	if e.RegionCode != "" {
		record["subdivisions"] = mmdbtype.Slice{
			mmdbtype.Map{
				"iso_code": mmdbtype.String(e.RegionCode),
				"names":    names(e.RegionName, nil),
			},
		}
	}
	if e.City != "" {
		record["city"] = mmdbtype.Map{"names": names(e.City, e.CityNames)}
	}
	if e.PostalCode != "" {
		record["postal"] = mmdbtype.Map{"code": mmdbtype.String(e.PostalCode)}
	}
	location := mmdbtype.Map{}
	if e.Latitude != 0 || e.Longitude != 0 {
		location["latitude"] = mmdbtype.Float64(e.Latitude)
		location["longitude"] = mmdbtype.Float64(e.Longitude)
	}
	if e.AccuracyRadius != 0 {
		location["accuracy_radius"] = mmdbtype.Uint16(e.AccuracyRadius)
	}
	if e.TimeZone != "" {
		location["time_zone"] = mmdbtype.String(e.TimeZone)
	}
	if len(location) > 0 {
		record["location"] = location
	}

	return record
}

func names(en string, extra map[string]string) mmdbtype.Map {
	m := mmdbtype.Map{"en": mmdbtype.String(en)}
	for lang, name := range extra {
		m[mmdbtype.String(lang)] = mmdbtype.String(name)
	}
	return m
}
