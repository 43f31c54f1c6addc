package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/patchgrid/bitwigd/internal/bitwig"
	"github.com/patchgrid/bitwigd/internal/converge"
)

type insertOnChainArgs struct {
	UnitRef  string `json:"unit_ref"`
	Position int    `json:"position"`
	TargetRange
}

type insertTrackResult struct {
	TrackIndex int    `json:"track_index"`
	Inserted   bool   `json:"inserted"`
	Confirmed  bool   `json:"confirmed"`
	Attempts   int    `json:"attempts,omitempty"`
	Error      string `json:"error,omitempty"`
}

type insertOnChainPayload struct {
	Action   string              `json:"action"`
	UnitID   string              `json:"unit_id"`
	UnitName string              `json:"unit_name,omitempty"`
	Position int                 `json:"position"`
	Tracks   []insertTrackResult `json:"tracks"`
}

// insertOnChainHandler inserts one device at the same chain position on
// every target track. Insertions are applied track by track; before each
// one the handler waits for the track's chain to be long enough, so stacked
// insert operations within a batch build chains deterministically even
// though the host applies inserts asynchronously.
type insertOnChainHandler struct {
	deps Deps
}

func (h *insertOnChainHandler) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args insertOnChainArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.UnitRef) == "" {
		return nil, fmt.Errorf("unit_ref is required")
	}
	if args.Position < 0 {
		return nil, fmt.Errorf("%w: position %d is negative", ErrInvalidRange, args.Position)
	}
	targets, err := args.TargetRange.Resolve()
	if err != nil {
		return nil, err
	}
	unit, err := h.deps.Units.ResolveRef(ctx, args.UnitRef)
	if err != nil {
		return nil, fmt.Errorf("resolve unit %q: %w", args.UnitRef, err)
	}

	payload := insertOnChainPayload{
		Action:   "units_inserted",
		UnitID:   unit.ID.String(),
		UnitName: unit.Name,
		Position: args.Position,
		Tracks:   make([]insertTrackResult, 0, len(targets)),
	}
	for _, track := range targets {
		payload.Tracks = append(payload.Tracks, h.insertOne(ctx, track, args.Position, unit))
	}
	return payload, nil
}

func (h *insertOnChainHandler) insertOne(ctx context.Context, track, position int, unit Unit) insertTrackResult {
	res := insertTrackResult{TrackIndex: track}

	exists, err := h.deps.Host.TrackExists(ctx, track)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if !exists {
		res.Error = fmt.Errorf("track %d: %w", track, bitwig.ErrTrackNotFound).Error()
		return res
	}

	// The chain must already be position devices long: an earlier insert on
	// this track may still be propagating inside the host.
	wait, err := converge.Await(ctx, h.deps.Confirm, func(ctx context.Context) (bool, error) {
		n, err := h.deps.Host.DeviceCount(ctx, track)
		if err != nil {
			return false, err
		}
		return n >= position, nil
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Confirmed = wait.Confirmed
	res.Attempts = wait.Attempts
	if !wait.Confirmed {
		h.deps.Logger.Warn("chain length not confirmed before insert",
			"track", track,
			"position", position,
			"attempts", wait.Attempts,
		)
	}

	if err := h.deps.Host.InsertDevice(ctx, track, position, unit.ID); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Inserted = true
	return res
}
