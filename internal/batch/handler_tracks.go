package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/patchgrid/bitwigd/internal/bitwig"
)

type createTracksArgs struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type createTracksPayload struct {
	Action    string `json:"action"`
	TrackType string `json:"track_type"`
	Count     int    `json:"count"`
}

// createTracksHandler appends count tracks of one type to the project.
type createTracksHandler struct {
	deps Deps
}

func (h *createTracksHandler) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args createTracksArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	kind, err := bitwig.ParseTrackKind(args.Type)
	if err != nil {
		return nil, err
	}
	count := args.Count
	if count < 0 {
		count = 0
	}
	for i := 0; i < count; i++ {
		if err := h.deps.Host.CreateTrack(ctx, kind); err != nil {
			return nil, fmt.Errorf("create %s track %d of %d: %w", kind, i+1, count, err)
		}
	}
	return createTracksPayload{
		Action:    "tracks_created",
		TrackType: string(kind),
		Count:     count,
	}, nil
}
