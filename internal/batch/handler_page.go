package batch

import (
	"context"
	"encoding/json"
	"fmt"
)

type switchPageArgs struct {
	Position  int `json:"position"`
	PageIndex int `json:"page_index"`
	TargetRange
}

type switchPageTrackResult struct {
	TrackIndex int    `json:"track_index"`
	DeviceName string `json:"device_name,omitempty"`
	Switched   bool   `json:"switched"`
	Error      string `json:"error,omitempty"`
}

type switchPagePayload struct {
	Action    string                  `json:"action"`
	Position  int                     `json:"position"`
	PageIndex int                     `json:"page_index"`
	Tracks    []switchPageTrackResult `json:"tracks"`
}

// switchPageHandler selects a remote controls page on the device at the
// same chain position across the target tracks. A track with no device at
// that position is reported and skipped, not fatal.
type switchPageHandler struct {
	deps Deps
}

func (h *switchPageHandler) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args switchPageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Position < 0 {
		return nil, fmt.Errorf("%w: position %d is negative", ErrInvalidRange, args.Position)
	}
	if args.PageIndex < 0 {
		return nil, fmt.Errorf("%w: page_index %d is negative", ErrInvalidRange, args.PageIndex)
	}
	targets, err := args.TargetRange.Resolve()
	if err != nil {
		return nil, err
	}

	payload := switchPagePayload{
		Action:    "pages_switched",
		Position:  args.Position,
		PageIndex: args.PageIndex,
		Tracks:    make([]switchPageTrackResult, 0, len(targets)),
	}
	for _, track := range targets {
		entry := switchPageTrackResult{TrackIndex: track}
		if err := h.deps.Cursor.EnsurePage(ctx, track, args.Position, args.PageIndex); err != nil {
			entry.Error = err.Error()
			payload.Tracks = append(payload.Tracks, entry)
			continue
		}
		// Purely informational; selection already succeeded.
		if name, err := h.deps.Host.DeviceName(ctx); err == nil {
			entry.DeviceName = name
		}
		entry.Switched = true
		payload.Tracks = append(payload.Tracks, entry)
	}
	return payload, nil
}
