package daemon

import (
	"encoding/json"

	"github.com/npratt/scrollpilot/internal/config"
	"github.com/npratt/scrollpilot/internal/control"
)

// RPC method names.
const (
	MethodStart  = "start"
	MethodResume = "resume"
	MethodStop   = "stop"
	MethodStatus = "status"
)

// Request represents a JSON-RPC request from a client.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int             `json:"id,omitempty"`
}

// Response represents a JSON-RPC response to a client.
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	ID     int    `json:"id,omitempty"`
}

// StartParams contains parameters for the start method. Nil settings use
// the daemon's configured defaults.
type StartParams struct {
	Mode string             `json:"mode"`
	Feed *config.FeedConfig `json:"feed,omitempty"`
	Reel *config.ReelConfig `json:"reel,omitempty"`
}

// ResumeParams contains parameters for the resume method. Nil settings
// reuse the last feed settings.
type ResumeParams struct {
	Feed *config.FeedConfig `json:"feed,omitempty"`
}

// StopParams contains parameters for the stop method.
type StopParams struct {
	// Shutdown also terminates the daemon and closes the browser.
	Shutdown bool `json:"shutdown,omitempty"`
}

// StatusResponse contains daemon status information.
type StatusResponse struct {
	Status    string         `json:"status"`
	Uptime    string         `json:"uptime"`
	StartTime string         `json:"start_time"`
	PID       int            `json:"pid"`
	Run       control.Status `json:"run"`
	Stats     StatusStats    `json:"stats"`
}

// StatusStats contains the persisted run counters.
type StatusStats struct {
	LastMode      string `json:"last_mode,omitempty"`
	LastStatus    string `json:"last_status,omitempty"`
	Index         int    `json:"index"`
	Viewed        int    `json:"viewed"`
	Skipped       int    `json:"skipped"`
	Interruptions int    `json:"interruptions"`
	ReelAdvances  int    `json:"reel_advances"`
}
