package bitwig

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ParameterBankSize is the number of remote control slots exposed per page.
// The host API banks parameters in fixed windows of eight.
const ParameterBankSize = 8

// TrackKind enumerates the track types the host can create.
type TrackKind string

const (
	TrackInstrument TrackKind = "instrument"
	TrackAudio      TrackKind = "audio"
	TrackEffect     TrackKind = "effect"
)

// ParseTrackKind validates a wire-level track type string.
func ParseTrackKind(raw string) (TrackKind, error) {
	switch TrackKind(raw) {
	case TrackInstrument, TrackAudio, TrackEffect:
		return TrackKind(raw), nil
	}
	return "", fmt.Errorf("unknown track type %q (want instrument, audio or effect)", raw)
}

// ParameterSlot is one populated remote control slot on the selected page.
// Slots with no parameter behind them are omitted from reads.
type ParameterSlot struct {
	Index   int     `json:"index"`
	Name    string  `json:"name,omitempty"`
	Value   float64 `json:"value"`
	Display string  `json:"displayed_value"`
}

// Host is the gateway's view of the DAW. Selection-relative calls
// (DeviceName, PageCount, PageNames, SelectPage, PageParameters,
// SetParameter, ParameterDisplay) operate on whatever track, device and
// page the host currently has selected, so callers are expected to drive
// selection first and to serialize access.
type Host interface {
	ProjectName(ctx context.Context) (string, error)

	TrackCount(ctx context.Context) (int, error)
	TrackExists(ctx context.Context, track int) (bool, error)
	SelectTrack(ctx context.Context, track int) error
	CreateTrack(ctx context.Context, kind TrackKind) error

	DeviceCount(ctx context.Context, track int) (int, error)
	DeviceExists(ctx context.Context, track, device int) (bool, error)
	SelectDevice(ctx context.Context, track, device int) error
	InsertDevice(ctx context.Context, track, position int, id uuid.UUID) error
	DeviceName(ctx context.Context) (string, error)

	PageCount(ctx context.Context) (int, error)
	PageNames(ctx context.Context) ([]string, error)
	SelectPage(ctx context.Context, page int) error
	PageParameters(ctx context.Context) ([]ParameterSlot, error)

	SetParameter(ctx context.Context, slot int, value float64) error
	ParameterDisplay(ctx context.Context, slot int) (string, error)
}
