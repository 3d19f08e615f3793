package lookup

import (
	"log/slog"
	"net/http"

	"github.com/TomasB/geolookup/internal/address"
	geolookup "github.com/TomasB/geolookup/internal/lookup"
	"github.com/gin-gonic/gin"
)

// Orchestrator resolves an address against the loaded datasets.
type Orchestrator interface {
	Resolve(addr address.Address) geolookup.Outcome
}

// Resolver turns request input into the subject address of a lookup.
type Resolver interface {
	ResolveExplicit(raw string) (address.Address, error)
	ResolveCaller(req *http.Request) (address.Address, string, error)
}

// ErrorResponse is returned when no lookup could be attempted.
type ErrorResponse struct {
	Outcome geolookup.OutcomeKind `json:"outcome"`
	Error   string                `json:"error"`
}

// SelfResponse is the outcome of a caller lookup together with where the
// caller address was taken from.
type SelfResponse struct {
	geolookup.Outcome
	Source string `json:"source"`
}

// Handler manages address lookup endpoints.
type Handler struct {
	orchestrator Orchestrator
	resolver     Resolver
}

// NewHandler creates a new lookup handler.
func NewHandler(orchestrator Orchestrator, resolver Resolver) *Handler {
	return &Handler{orchestrator: orchestrator, resolver: resolver}
}

// Address handles GET /api/v1/address/:address
func (h *Handler) Address(c *gin.Context) {
	raw := c.Param("address")

	addr, err := h.resolver.ResolveExplicit(raw)
	if err != nil {
		slog.Debug("invalid address in request", "address", raw)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Outcome: geolookup.InvalidAddress,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, h.orchestrator.Resolve(addr))
}

// Self handles GET /api/v1/address
func (h *Handler) Self(c *gin.Context) {
	addr, source, err := h.resolver.ResolveCaller(c.Request)
	if err != nil {
		slog.Warn("caller address could not be determined", "remote_addr", c.Request.RemoteAddr, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Outcome: geolookup.InvalidAddress,
			Error:   err.Error(),
		})
		return
	}

	slog.Debug("caller address resolved", "ip", addr.String(), "source", source)

	c.JSON(http.StatusOK, SelfResponse{
		Outcome: h.orchestrator.Resolve(addr),
		Source:  source,
	})
}
