// Package api defines the JSON bodies of the control surface.
package api

import "github.com/cardsort/sorterd/internal/model"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type OKResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the poll target of the dashboard: the sequence snapshot
// plus sensor states, the current card, and the scan total.
type StatusResponse struct {
	Simulated  bool              `json:"simulated"`
	Beams      map[string]bool   `json:"beams"`
	SeqRunning bool              `json:"seq_running"`
	SeqPhase   model.Phase       `json:"seq_phase"`
	SeqStatus  string            `json:"seq_status"`
	SeqError   string            `json:"seq_error"`
	SeqCycles  int               `json:"seq_cycles"`
	SeqOsc     int               `json:"seq_osc"`
	TotalScans int               `json:"total_scans"`
	Current    *model.CardRecord `json:"current_card"`
}

// ScanResponse acknowledges one ingested scan with its classification.
type ScanResponse struct {
	Status string `json:"status"`
	Bin    int    `json:"bin"`
	Card   string `json:"card"`
}

type MotorResponse struct {
	OK         bool `json:"ok"`
	Success    bool `json:"success"`
	StepsTaken int  `json:"steps_taken"`
}

type SimScanResponse struct {
	OK   bool             `json:"ok"`
	Card model.CardRecord `json:"card"`
}

type SimBeamResponse struct {
	OK      bool   `json:"ok"`
	Beam    string `json:"beam"`
	Blocked bool   `json:"blocked"`
}
