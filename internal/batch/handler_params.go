package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/patchgrid/bitwigd/internal/bitwig"
	"github.com/patchgrid/bitwigd/internal/paramdiff"
)

type parameterArg struct {
	Index   int     `json:"index"`
	Value   float64 `json:"value"`
	Display string  `json:"displayed_value,omitempty"`
}

type paramResult struct {
	Index   int     `json:"index"`
	Value   float64 `json:"value"`
	Set     bool    `json:"set"`
	Skipped bool    `json:"skipped,omitempty"`
	Display string  `json:"displayed_value,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type paramsTrackResult struct {
	TrackIndex int           `json:"track_index"`
	DeviceName string        `json:"device_name,omitempty"`
	Parameters []paramResult `json:"parameters,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type setParametersArgs struct {
	Position   int            `json:"position"`
	Parameters []parameterArg `json:"parameters"`
	TargetRange
}

type setParametersPayload struct {
	Action   string              `json:"action"`
	Position int                 `json:"position"`
	Tracks   []paramsTrackResult `json:"tracks"`
}

// setParametersHandler writes values into the currently selected page of
// the device at one chain position across the target tracks.
type setParametersHandler struct {
	deps Deps
}

func (h *setParametersHandler) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args setParametersArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Position < 0 {
		return nil, fmt.Errorf("%w: position %d is negative", ErrInvalidRange, args.Position)
	}
	if len(args.Parameters) == 0 {
		return nil, fmt.Errorf("parameters are required")
	}
	targets, err := args.TargetRange.Resolve()
	if err != nil {
		return nil, err
	}

	payload := setParametersPayload{
		Action:   "parameters_set",
		Position: args.Position,
		Tracks:   make([]paramsTrackResult, 0, len(targets)),
	}
	for _, track := range targets {
		entry := paramsTrackResult{TrackIndex: track}
		if err := h.deps.Cursor.EnsureDevice(ctx, track, args.Position); err != nil {
			entry.Error = err.Error()
			payload.Tracks = append(payload.Tracks, entry)
			continue
		}
		if name, err := h.deps.Host.DeviceName(ctx); err == nil {
			entry.DeviceName = name
		}
		var current map[int]string
		if hasDisplayExpectations(args.Parameters) {
			pause(ctx, h.deps.SettleRead)
			current = readDisplays(ctx, h.deps.Host)
		}
		for _, p := range args.Parameters {
			entry.Parameters = append(entry.Parameters, applyParameter(ctx, h.deps.Host, p, current))
		}
		payload.Tracks = append(payload.Tracks, entry)
	}
	return payload, nil
}

type setPageParametersArgs struct {
	Position   int            `json:"position"`
	PageIndex  int            `json:"page_index"`
	Parameters []parameterArg `json:"parameters"`
	TargetRange
}

type setPageParametersPayload struct {
	Action    string              `json:"action"`
	Position  int                 `json:"position"`
	PageIndex int                 `json:"page_index"`
	Tracks    []paramsTrackResult `json:"tracks"`
}

// setPageParametersHandler switches each target device to a page, then
// writes values into it. A track whose page switch fails is reported and
// the remaining tracks still run.
type setPageParametersHandler struct {
	deps Deps
}

func (h *setPageParametersHandler) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args setPageParametersArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Position < 0 {
		return nil, fmt.Errorf("%w: position %d is negative", ErrInvalidRange, args.Position)
	}
	if args.PageIndex < 0 {
		return nil, fmt.Errorf("%w: page_index %d is negative", ErrInvalidRange, args.PageIndex)
	}
	if len(args.Parameters) == 0 {
		return nil, fmt.Errorf("parameters are required")
	}
	targets, err := args.TargetRange.Resolve()
	if err != nil {
		return nil, err
	}

	payload := setPageParametersPayload{
		Action:    "page_parameters_set",
		Position:  args.Position,
		PageIndex: args.PageIndex,
		Tracks:    make([]paramsTrackResult, 0, len(targets)),
	}
	for _, track := range targets {
		entry := paramsTrackResult{TrackIndex: track}
		if err := h.deps.Cursor.EnsurePage(ctx, track, args.Position, args.PageIndex); err != nil {
			entry.Error = err.Error()
			payload.Tracks = append(payload.Tracks, entry)
			continue
		}
		if name, err := h.deps.Host.DeviceName(ctx); err == nil {
			entry.DeviceName = name
		}
		var current map[int]string
		if hasDisplayExpectations(args.Parameters) {
			pause(ctx, h.deps.SettleRead)
			current = readDisplays(ctx, h.deps.Host)
		}
		for _, p := range args.Parameters {
			entry.Parameters = append(entry.Parameters, applyParameter(ctx, h.deps.Host, p, current))
		}
		payload.Tracks = append(payload.Tracks, entry)
	}
	return payload, nil
}

func hasDisplayExpectations(params []parameterArg) bool {
	for _, p := range params {
		if p.Display != "" {
			return true
		}
	}
	return false
}

// readDisplays fetches the selected page once for display comparison. A
// failed read only disables skipping: every parameter is then written.
func readDisplays(ctx context.Context, host bitwig.Host) map[int]string {
	slots, err := host.PageParameters(ctx)
	if err != nil {
		return nil
	}
	out := make(map[int]string, len(slots))
	for _, slot := range slots {
		out[slot.Index] = slot.Display
	}
	return out
}

// applyParameter validates and writes one value into the selected page,
// honoring the display diff. Failures are contained to the one parameter.
func applyParameter(ctx context.Context, host bitwig.Host, p parameterArg, current map[int]string) paramResult {
	res := paramResult{Index: p.Index, Value: p.Value}
	if p.Index < 0 || p.Index >= bitwig.ParameterBankSize {
		res.Error = fmt.Sprintf("index must be between 0 and %d", bitwig.ParameterBankSize-1)
		return res
	}
	if p.Value < 0 || p.Value > 1 {
		res.Error = fmt.Sprintf("value %v is outside [0, 1]", p.Value)
		return res
	}
	if !paramdiff.ShouldWrite(p.Display, current[p.Index]) {
		res.Skipped = true
		res.Display = p.Display
		res.Reason = paramdiff.SkipReason
		return res
	}
	if err := host.SetParameter(ctx, p.Index, p.Value); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Set = true
	if display, err := host.ParameterDisplay(ctx, p.Index); err == nil && display != "" {
		res.Display = display
	}
	return res
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
