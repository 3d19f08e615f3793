package lookup

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TomasB/geolookup/internal/clientip"
	"github.com/TomasB/geolookup/internal/data"
	geolookup "github.com/TomasB/geolookup/internal/lookup"
	"github.com/TomasB/geolookup/internal/testutil/mmdbtest"
	"github.com/gin-gonic/gin"
)

func setupIntegrationRouter(t *testing.T, trusted ...string) *gin.Engine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := data.Open([]data.Source{
		{Kind: data.NetworkOwnership, Path: mmdbtest.WriteASN(t, mmdbtest.DefaultASN...)},
		{Kind: data.CityGeo, Path: mmdbtest.WriteCity(t, mmdbtest.DefaultCity...)},
	}, data.HandleOptions{}, logger)
	t.Cleanup(func() { registry.Close() })

	set, err := clientip.ParseTrusted(trusted)
	if err != nil {
		t.Fatalf("failed to parse trusted proxies: %v", err)
	}
	resolver, err := clientip.NewResolver(clientip.Policy{Trusted: set}, clientip.WithLogger(logger))
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(geolookup.New(registry, geolookup.WithLogger(logger)), resolver)
	r.GET("/api/v1/address", h.Self)
	r.GET("/api/v1/address/:address", h.Address)
	return r
}

func TestIntegration_AddressGB(t *testing.T) {
	router := setupIntegrationRouter(t)

	w := get(router, "/api/v1/address/81.2.69.142")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp geolookup.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Kind != geolookup.Resolved {
		t.Errorf("expected resolved, got %v", resp.Kind)
	}
	if resp.Place == nil || resp.Place.City != "London" {
		t.Fatalf("expected London, got %+v", resp.Place)
	}
	if resp.Place.Country.Code != "GB" {
		t.Errorf("expected country GB, got %s", resp.Place.Country.Code)
	}
	if resp.Network != nil {
		t.Errorf("expected no network record, got %+v", resp.Network)
	}
	if resp.Datasets[data.NetworkOwnership] != geolookup.Miss {
		t.Errorf("expected asn miss, got %v", resp.Datasets[data.NetworkOwnership])
	}
}

func TestIntegration_AddressNotFound(t *testing.T) {
	router := setupIntegrationRouter(t)

	w := get(router, "/api/v1/address/127.0.0.1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp geolookup.Outcome
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Kind != geolookup.NotFound {
		t.Errorf("expected not_found, got %v", resp.Kind)
	}
}

func TestIntegration_SelfUntrustedPeerIgnoresHeader(t *testing.T) {
	router := setupIntegrationRouter(t)

	req, _ := http.NewRequest("GET", "/api/v1/address", nil)
	req.RemoteAddr = "8.8.8.8:51000"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp SelfResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Address.String() != "8.8.8.8" {
		t.Errorf("expected peer address 8.8.8.8, got %s", resp.Address.String())
	}
	if resp.Source != clientip.SourceRemoteAddr {
		t.Errorf("expected source %s, got %s", clientip.SourceRemoteAddr, resp.Source)
	}
	if resp.Network == nil || resp.Network.ASN != 15169 {
		t.Errorf("expected GOOGLE network, got %+v", resp.Network)
	}
}

func TestIntegration_SelfTrustedProxy(t *testing.T) {
	router := setupIntegrationRouter(t, "10.0.0.0/8")

	req, _ := http.NewRequest("GET", "/api/v1/address", nil)
	req.RemoteAddr = "10.1.2.3:51000"
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 10.9.9.9")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp SelfResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Address.String() != "1.1.1.1" {
		t.Errorf("expected forwarded address 1.1.1.1, got %s", resp.Address.String())
	}
	if resp.Source != "X-Forwarded-For" {
		t.Errorf("expected source X-Forwarded-For, got %s", resp.Source)
	}
	if resp.Network == nil || resp.Network.Organization != "CLOUDFLARENET" {
		t.Errorf("expected CLOUDFLARENET, got %+v", resp.Network)
	}
}
