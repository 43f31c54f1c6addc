// Package cursor caches the believed host-side selection. The host exposes
// one cursor track, one cursor device and one selected remote controls page;
// every selection change costs a round trip plus a settle delay, so repeated
// selections of the same target are skipped when the cache says they would
// be no-ops.
//
// Page selection is the exception: the host can move the page under the
// gateway's feet, so EnsurePage always issues the select even on a cache
// hit. Track and device selection have no such host-side drift within a
// session.
package cursor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patchgrid/bitwigd/internal/bitwig"
)

// SelectionHost is the slice of host calls selection needs.
type SelectionHost interface {
	TrackExists(ctx context.Context, track int) (bool, error)
	SelectTrack(ctx context.Context, track int) error
	DeviceExists(ctx context.Context, track, device int) (bool, error)
	SelectDevice(ctx context.Context, track, device int) error
	SelectPage(ctx context.Context, page int) error
}

// Settle bundles the pause after each selection change. The host applies
// selections asynchronously; reads issued too early observe the previous
// target.
type Settle struct {
	Track  time.Duration
	Device time.Duration
	Page   time.Duration
}

// View is the externally visible cache state. Nil means unknown.
type View struct {
	Track  *int `json:"track"`
	Device *int `json:"device"`
	Page   *int `json:"page"`
}

// Cursor tracks the current selection. It is not safe for concurrent use;
// the gateway serializes all callers.
type Cursor struct {
	host   SelectionHost
	settle Settle
	logger *slog.Logger

	track  *int
	device *int
	page   *int
}

// New returns a cursor with no believed selection.
func New(host SelectionHost, settle Settle, logger *slog.Logger) *Cursor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cursor{host: host, settle: settle, logger: logger.With("component", "cursor")}
}

// View returns a copy of the cache state.
func (c *Cursor) View() View {
	return View{
		Track:  copyInt(c.track),
		Device: copyInt(c.device),
		Page:   copyInt(c.page),
	}
}

// Reset forgets the cached selection. Called when a new bridge session
// replaces the old one: the fresh session's host-side selection is unknown.
func (c *Cursor) Reset() {
	c.track = nil
	c.device = nil
	c.page = nil
}

// EnsureTrack makes the host's cursor track the given index. A cache hit
// skips the host entirely. A miss verifies existence first so a bad index
// never moves the selection.
func (c *Cursor) EnsureTrack(ctx context.Context, track int) error {
	if c.track != nil && *c.track == track {
		return nil
	}
	ok, err := c.host.TrackExists(ctx, track)
	if err != nil {
		return fmt.Errorf("check track %d: %w", track, err)
	}
	if !ok {
		c.Reset()
		return fmt.Errorf("track %d: %w", track, bitwig.ErrTrackNotFound)
	}
	if err := c.host.SelectTrack(ctx, track); err != nil {
		c.Reset()
		return fmt.Errorf("select track %d: %w", track, err)
	}
	// Moving the track invalidates everything finer in the same step.
	c.track = &track
	c.device = nil
	c.page = nil
	c.logger.Debug("selected track", "track", track)
	c.pause(ctx, c.settle.Track)
	return nil
}

// EnsureDevice makes the host's cursor device the given chain position on
// the given track, ensuring the track first.
func (c *Cursor) EnsureDevice(ctx context.Context, track, device int) error {
	if err := c.EnsureTrack(ctx, track); err != nil {
		return err
	}
	if c.device != nil && *c.device == device {
		return nil
	}
	ok, err := c.host.DeviceExists(ctx, track, device)
	if err != nil {
		return fmt.Errorf("check device %d on track %d: %w", device, track, err)
	}
	if !ok {
		c.device = nil
		c.page = nil
		return fmt.Errorf("device %d on track %d: %w", device, track, bitwig.ErrDeviceNotFound)
	}
	if err := c.host.SelectDevice(ctx, track, device); err != nil {
		c.device = nil
		c.page = nil
		return fmt.Errorf("select device %d on track %d: %w", device, track, err)
	}
	c.device = &device
	c.page = nil
	c.logger.Debug("selected device", "track", track, "device", device)
	c.pause(ctx, c.settle.Device)
	return nil
}

// EnsurePage selects the page after ensuring track and device. The select is
// issued unconditionally; see the package comment.
func (c *Cursor) EnsurePage(ctx context.Context, track, device, page int) error {
	if err := c.EnsureDevice(ctx, track, device); err != nil {
		return err
	}
	if err := c.host.SelectPage(ctx, page); err != nil {
		c.page = nil
		return fmt.Errorf("select page %d: %w", page, err)
	}
	c.page = &page
	c.logger.Debug("selected page", "track", track, "device", device, "page", page)
	c.pause(ctx, c.settle.Page)
	return nil
}

func (c *Cursor) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
