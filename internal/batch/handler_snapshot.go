package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/patchgrid/bitwigd/internal/bitwig"
	"github.com/patchgrid/bitwigd/internal/paramdiff"
)

type snapshotPage struct {
	PageIndex  int            `json:"page_index"`
	PageName   string         `json:"page_name,omitempty"`
	Parameters []parameterArg `json:"parameters"`
}

type applySnapshotArgs struct {
	Position int            `json:"position"`
	Pages    []snapshotPage `json:"pages"`
	TargetRange
}

type snapshotPageResult struct {
	PageIndex         int              `json:"page_index"`
	PageName          string           `json:"page_name"`
	ParametersSent    int              `json:"parameters_sent"`
	ParametersSkipped int              `json:"parameters_skipped"`
	SkippedDetails    []paramdiff.Skip `json:"skipped_details,omitempty"`
	WriteErrors       []string         `json:"write_errors,omitempty"`
}

type snapshotTrackResult struct {
	TrackIndex   int                  `json:"track_index"`
	Device       string               `json:"device,omitempty"`
	PagesUpdated int                  `json:"pages_updated"`
	Pages        []snapshotPageResult `json:"pages,omitempty"`
	Error        string               `json:"error,omitempty"`
}

type applySnapshotPayload struct {
	Action   string                `json:"action"`
	Position int                   `json:"position"`
	Tracks   []snapshotTrackResult `json:"tracks"`
}

// applySnapshotHandler replays a multi-page parameter snapshot onto the
// device at one chain position across the target tracks. Pages are written
// in submission order unless the knowledge catalog marks one page as
// write-first for the device: pages whose parameters depend on a mode
// selection (EQ band types, for instance) must land before the dependents.
type applySnapshotHandler struct {
	deps Deps
}

func (h *applySnapshotHandler) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args applySnapshotArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Position < 0 {
		return nil, fmt.Errorf("%w: position %d is negative", ErrInvalidRange, args.Position)
	}
	if len(args.Pages) == 0 {
		return nil, fmt.Errorf("pages are required")
	}
	for _, page := range args.Pages {
		if page.PageIndex < 0 {
			return nil, fmt.Errorf("%w: page_index %d is negative", ErrInvalidRange, page.PageIndex)
		}
	}
	targets, err := args.TargetRange.Resolve()
	if err != nil {
		return nil, err
	}

	payload := applySnapshotPayload{
		Action:   "snapshot_applied",
		Position: args.Position,
		Tracks:   make([]snapshotTrackResult, 0, len(targets)),
	}
	for _, track := range targets {
		payload.Tracks = append(payload.Tracks, h.applyTrack(ctx, track, args))
	}
	return payload, nil
}

func (h *applySnapshotHandler) applyTrack(ctx context.Context, track int, args applySnapshotArgs) snapshotTrackResult {
	entry := snapshotTrackResult{TrackIndex: track}
	if err := h.deps.Cursor.EnsureDevice(ctx, track, args.Position); err != nil {
		entry.Error = err.Error()
		return entry
	}
	if name, err := h.deps.Host.DeviceName(ctx); err == nil {
		entry.Device = name
	}

	for _, page := range h.orderPages(ctx, entry.Device, args.Pages) {
		if len(page.Parameters) == 0 {
			continue
		}
		pageRes, err := h.applyPage(ctx, track, args.Position, page)
		if err != nil {
			entry.Error = fmt.Sprintf("page %d: %v", page.PageIndex, err)
			break
		}
		entry.Pages = append(entry.Pages, pageRes)
	}
	entry.PagesUpdated = len(entry.Pages)
	return entry
}

// orderPages moves the device's write-first page, when the catalog records
// one, to the front. All other pages keep their submitted order.
func (h *applySnapshotHandler) orderPages(ctx context.Context, deviceName string, pages []snapshotPage) []snapshotPage {
	if deviceName == "" {
		return pages
	}
	first, ok, err := h.deps.Units.WriteFirstPage(ctx, deviceName)
	if err != nil || !ok {
		return pages
	}
	front := make([]snapshotPage, 0, 1)
	rest := make([]snapshotPage, 0, len(pages))
	for _, p := range pages {
		if p.PageIndex == first {
			front = append(front, p)
		} else {
			rest = append(rest, p)
		}
	}
	return append(front, rest...)
}

func (h *applySnapshotHandler) applyPage(ctx context.Context, track, position int, page snapshotPage) (snapshotPageResult, error) {
	name := page.PageName
	if name == "" {
		name = fmt.Sprintf("Page-%d", page.PageIndex)
	}
	res := snapshotPageResult{PageIndex: page.PageIndex, PageName: name}

	if err := h.deps.Cursor.EnsurePage(ctx, track, position, page.PageIndex); err != nil {
		return res, err
	}
	pause(ctx, h.deps.SettleRead)
	current := readDisplays(ctx, h.deps.Host)

	for _, p := range page.Parameters {
		if p.Index < 0 || p.Index >= bitwig.ParameterBankSize {
			res.WriteErrors = append(res.WriteErrors, fmt.Sprintf("parameter %d: index out of range", p.Index))
			continue
		}
		if p.Value < 0 || p.Value > 1 {
			res.WriteErrors = append(res.WriteErrors, fmt.Sprintf("parameter %d: value %v is outside [0, 1]", p.Index, p.Value))
			continue
		}
		if !paramdiff.ShouldWrite(p.Display, current[p.Index]) {
			res.SkippedDetails = append(res.SkippedDetails, paramdiff.NewSkip(p.Index, p.Value, p.Display))
			continue
		}
		if err := h.deps.Host.SetParameter(ctx, p.Index, p.Value); err != nil {
			res.WriteErrors = append(res.WriteErrors, fmt.Sprintf("parameter %d: %v", p.Index, err))
			continue
		}
		res.ParametersSent++
	}
	res.ParametersSkipped = len(res.SkippedDetails)
	return res, nil
}
