package api

import "microgrid_simulator/internal/tariff"

// ControlRequest drives POST /api/simulation/control.
type ControlRequest struct {
	Action    string `json:"action" binding:"required"`
	StartDate string `json:"start_date"`
	StartTime string `json:"start_time"`
}

// ParamsResponse answers the parameter read endpoint.
type ParamsResponse struct {
	Params any `json:"params"`
	Pins   any `json:"pins"`
}

// CostsResponse summarizes the session cost ledger.
type CostsResponse struct {
	TotalCost float64        `json:"total_cost"`
	Currency  string         `json:"currency"`
	Count     int            `json:"count"`
	Entries   []tariff.Entry `json:"entries,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeConflict       = "CONFLICT"
	CodeInternal       = "INTERNAL_ERROR"
)
