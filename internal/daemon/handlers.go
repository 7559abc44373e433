package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/npratt/scrollpilot/internal/control"
)

// handleRequest dispatches the request to the appropriate handler.
func (d *Daemon) handleRequest(ctx context.Context, req *Request) Response {
	if d.controller == nil {
		return Response{Error: "no controller available"}
	}
	switch req.Method {
	case MethodStatus:
		return d.handleStatus()
	case MethodStart:
		return d.handleStart(ctx, req)
	case MethodResume:
		return d.handleResume(ctx, req)
	case MethodStop:
		return d.handleStop(req)
	default:
		return Response{Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}
}

// decodeParams unmarshals optional request params into v.
func decodeParams(req *Request, v any) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("invalid %s params: %w", req.Method, err)
	}
	return nil
}

// handleStatus returns the current daemon status.
func (d *Daemon) handleStatus() Response {
	d.mu.RLock()
	startTime := d.startTime
	d.mu.RUnlock()

	resp := StatusResponse{
		Status:    "idle",
		Uptime:    time.Since(startTime).Truncate(time.Second).String(),
		StartTime: startTime.Format(time.RFC3339),
		PID:       os.Getpid(),
		Run:       d.controller.Status(),
	}
	if resp.Run.Running {
		resp.Status = "running"
	}
	if d.state != nil {
		st := d.state.State()
		resp.Stats = StatusStats{
			LastMode:      st.Mode,
			LastStatus:    st.Status,
			Index:         st.Index,
			Viewed:        st.Viewed,
			Skipped:       st.Skipped,
			Interruptions: st.Interruptions,
			ReelAdvances:  st.ReelAdvances,
		}
	}
	return Response{Result: resp}
}

// handleStart begins a feed or reel run.
func (d *Daemon) handleStart(ctx context.Context, req *Request) Response {
	var params StartParams
	if err := decodeParams(req, &params); err != nil {
		return Response{Error: err.Error()}
	}
	mode, err := control.ParseMode(params.Mode)
	if err != nil {
		return Response{Error: err.Error()}
	}

	st, err := d.controller.Start(ctx, mode, control.Settings{Feed: params.Feed, Reel: params.Reel})
	if err != nil {
		return Response{Error: err.Error()}
	}
	d.logger.Info("run started via rpc", "mode", mode, "run_id", st.RunID)
	return Response{Result: st}
}

// handleResume continues the last feed run.
func (d *Daemon) handleResume(ctx context.Context, req *Request) Response {
	var params ResumeParams
	if err := decodeParams(req, &params); err != nil {
		return Response{Error: err.Error()}
	}

	st, err := d.controller.Resume(ctx, params.Feed)
	if err != nil {
		return Response{Error: err.Error()}
	}
	d.logger.Info("run resumed via rpc", "run_id", st.RunID, "index", st.Index)
	return Response{Result: st}
}

// handleStop ends the active run and, when asked, schedules daemon shutdown.
func (d *Daemon) handleStop(req *Request) Response {
	var params StopParams
	if err := decodeParams(req, &params); err != nil {
		return Response{Error: err.Error()}
	}

	st := d.controller.Stop()
	if !params.Shutdown {
		return Response{Result: st}
	}

	// Let the response reach the client before the listener closes
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = d.Stop()
		if d.onShutdown != nil {
			d.onShutdown()
		}
	}()
	return Response{Result: st}
}
