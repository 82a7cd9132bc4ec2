// Package api exposes the REST control surface: session control, parameter
// reads and writes, and the cost ledger. The WebSocket stream carries the
// live data; these routes exist for the dashboard's non-streaming calls and
// for scripting.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"microgrid_simulator/internal/engine"
	"microgrid_simulator/internal/model"
)

// Handler wires the session engine into gin routes.
type Handler struct {
	engine *engine.Engine
}

func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

// Register mounts all routes on the router.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)

	sim := r.Group("/api/simulation")
	{
		sim.GET("/state", h.GetState)
		sim.GET("/params", h.GetParams)
		sim.POST("/params", h.UpdateParams)
		sim.POST("/control", h.Control)
	}

	costs := r.Group("/api/costs")
	{
		costs.GET("", h.GetCosts)
		costs.POST("/reset", h.ResetCosts)
	}
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "running": h.engine.Running()})
}

// GetState handles GET /api/simulation/state.
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.State())
}

// GetParams handles GET /api/simulation/params.
func (h *Handler) GetParams(c *gin.Context) {
	s := h.engine.State()
	c.JSON(http.StatusOK, ParamsResponse{Params: s.Params, Pins: s.Pins})
}

// UpdateParams handles POST /api/simulation/params. The body is the same
// flat update object the WebSocket surface accepts.
func (h *Handler) UpdateParams(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		abortError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	req, err := model.DecodeUpdate(raw)
	if err != nil {
		abortError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if err := h.engine.UpdateParameters(req.Fields, req.StartDate, req.StartTime); err != nil {
		abortError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.engine.State())
}

// Control handles POST /api/simulation/control.
func (h *Handler) Control(c *gin.Context) {
	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	switch strings.ToLower(req.Action) {
	case "start":
		if err := h.engine.Start(req.StartDate, req.StartTime); err != nil {
			if errors.Is(err, engine.ErrAlreadyRunning) {
				abortError(c, http.StatusConflict, CodeConflict, err.Error())
			} else {
				abortError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			}
			return
		}
	case "stop":
		h.engine.Stop()
	default:
		abortError(c, http.StatusBadRequest, CodeInvalidRequest, "action must be \"start\" or \"stop\"")
		return
	}
	c.JSON(http.StatusOK, h.engine.State())
}

// GetCosts handles GET /api/costs. Pass ?entries=true for the full ledger.
func (h *Handler) GetCosts(c *gin.Context) {
	ledger := h.engine.Ledger()
	resp := CostsResponse{
		TotalCost: ledger.Total(),
		Currency:  h.engine.Currency(),
		Count:     ledger.Len(),
	}
	if c.Query("entries") == "true" {
		resp.Entries = ledger.Entries()
	}
	c.JSON(http.StatusOK, resp)
}

// ResetCosts handles POST /api/costs/reset.
func (h *Handler) ResetCosts(c *gin.Context) {
	h.engine.Ledger().Reset()
	c.JSON(http.StatusOK, CostsResponse{Currency: h.engine.Currency()})
}
