// Package gateway exposes the operations the HTTP layer serves: batch
// execution, read-side snapshots of the selected device, and a status
// summary. One mutex serializes everything that touches the host, since
// the underlying controller API is a set of global selection cursors.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patchgrid/bitwigd/internal/batch"
	"github.com/patchgrid/bitwigd/internal/bitwig"
	"github.com/patchgrid/bitwigd/internal/converge"
	"github.com/patchgrid/bitwigd/internal/cursor"
	"github.com/patchgrid/bitwigd/internal/knowledge"
)

// BridgeStatus reports whether the controller-script connection is up.
type BridgeStatus interface {
	Connected() bool
}

// Catalog is the slice of the knowledge store the gateway consumes.
type Catalog interface {
	ResolveRef(ctx context.Context, ref string) (knowledge.Device, error)
	WriteFirstPage(ctx context.Context, deviceName string) (int, bool, error)
	CountDevices(ctx context.Context) (int, error)
}

// Options carries the timing knobs shared by all host-facing calls.
type Options struct {
	SettleRead time.Duration
	Confirm    converge.Policy
}

// Service owns the host session. All public methods take the service
// mutex; callers never talk to the host or the cursor directly.
type Service struct {
	mu         sync.Mutex
	host       bitwig.Host
	bridge     BridgeStatus
	cursor     *cursor.Cursor
	executor   *batch.Executor
	catalog    Catalog
	settleRead time.Duration
	logger     *slog.Logger
}

func New(host bitwig.Host, bridge BridgeStatus, cur *cursor.Cursor, catalog Catalog, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	exec := batch.NewExecutor(batch.Deps{
		Host:       host,
		Cursor:     cur,
		Units:      unitResolver{catalog: catalog},
		Confirm:    opts.Confirm,
		SettleRead: opts.SettleRead,
		Logger:     logger,
	})
	return &Service{
		host:       host,
		bridge:     bridge,
		cursor:     cur,
		executor:   exec,
		catalog:    catalog,
		settleRead: opts.SettleRead,
		logger:     logger.With("component", "gateway"),
	}
}

// unitResolver adapts the knowledge catalog to the batch executor's view
// of device references.
type unitResolver struct {
	catalog Catalog
}

func (r unitResolver) ResolveRef(ctx context.Context, ref string) (batch.Unit, error) {
	d, err := r.catalog.ResolveRef(ctx, ref)
	if err != nil {
		return batch.Unit{}, err
	}
	return batch.Unit{ID: d.ID, Name: d.Name}, nil
}

func (r unitResolver) WriteFirstPage(ctx context.Context, deviceName string) (int, bool, error) {
	return r.catalog.WriteFirstPage(ctx, deviceName)
}

// ExecuteBatch runs the request to completion while holding the session.
func (s *Service) ExecuteBatch(ctx context.Context, req batch.Request) batch.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executor.Run(ctx, req)
}

// PageInfo names one remote-control page of a device.
type PageInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// DevicePages lists the remote-control pages of one device.
type DevicePages struct {
	TrackIndex int        `json:"track_index"`
	Position   int        `json:"position"`
	Device     string     `json:"device,omitempty"`
	PageCount  int        `json:"page_count"`
	Pages      []PageInfo `json:"pages"`
}

func (s *Service) DevicePages(ctx context.Context, track, position int) (DevicePages, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cursor.EnsureDevice(ctx, track, position); err != nil {
		return DevicePages{}, err
	}
	out := DevicePages{TrackIndex: track, Position: position}
	if name, err := s.host.DeviceName(ctx); err == nil {
		out.Device = name
	}
	names, err := s.host.PageNames(ctx)
	if err != nil {
		return DevicePages{}, err
	}
	out.PageCount = len(names)
	out.Pages = make([]PageInfo, 0, len(names))
	for i, name := range names {
		out.Pages = append(out.Pages, PageInfo{Index: i, Name: name})
	}
	return out, nil
}

// PageSnapshot is the current state of one remote-control page.
type PageSnapshot struct {
	TrackIndex int                    `json:"track_index"`
	Position   int                    `json:"position"`
	Device     string                 `json:"device,omitempty"`
	PageIndex  int                    `json:"page_index"`
	PageName   string                 `json:"page_name,omitempty"`
	Parameters []bitwig.ParameterSlot `json:"parameters"`
}

func (s *Service) PageSnapshot(ctx context.Context, track, position, page int) (PageSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cursor.EnsurePage(ctx, track, position, page); err != nil {
		return PageSnapshot{}, err
	}
	out := PageSnapshot{TrackIndex: track, Position: position, PageIndex: page}
	if name, err := s.host.DeviceName(ctx); err == nil {
		out.Device = name
	}
	if names, err := s.host.PageNames(ctx); err == nil && page < len(names) {
		out.PageName = names[page]
	}
	pause(ctx, s.settleRead)
	params, err := s.host.PageParameters(ctx)
	if err != nil {
		return PageSnapshot{}, err
	}
	out.Parameters = params
	return out, nil
}

// SnapshotPage mirrors the page shape accepted by apply_snapshot, so a
// captured snapshot can be posted back verbatim.
type SnapshotPage struct {
	PageIndex  int                    `json:"page_index"`
	PageName   string                 `json:"page_name,omitempty"`
	Parameters []bitwig.ParameterSlot `json:"parameters"`
}

// DeviceSnapshot is the full remote-control state of one device.
type DeviceSnapshot struct {
	TrackIndex int            `json:"track_index"`
	Position   int            `json:"position"`
	Device     string         `json:"device,omitempty"`
	PageCount  int            `json:"page_count"`
	Pages      []SnapshotPage `json:"pages"`
}

func (s *Service) DeviceSnapshot(ctx context.Context, track, position int) (DeviceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cursor.EnsureDevice(ctx, track, position); err != nil {
		return DeviceSnapshot{}, err
	}
	out := DeviceSnapshot{TrackIndex: track, Position: position}
	if name, err := s.host.DeviceName(ctx); err == nil {
		out.Device = name
	}
	names, err := s.host.PageNames(ctx)
	if err != nil {
		return DeviceSnapshot{}, err
	}
	out.PageCount = len(names)
	out.Pages = make([]SnapshotPage, 0, len(names))
	for i, name := range names {
		if err := s.cursor.EnsurePage(ctx, track, position, i); err != nil {
			return DeviceSnapshot{}, err
		}
		pause(ctx, s.settleRead)
		params, err := s.host.PageParameters(ctx)
		if err != nil {
			return DeviceSnapshot{}, err
		}
		out.Pages = append(out.Pages, SnapshotPage{PageIndex: i, PageName: name, Parameters: params})
	}
	return out, nil
}

// KnownDevice is the catalog identity for a resolvable reference.
type KnownDevice struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name,omitempty"`
}

// ResolveDevice answers what a unit reference would insert, without
// touching the host.
func (s *Service) ResolveDevice(ctx context.Context, ref string) (KnownDevice, error) {
	d, err := s.catalog.ResolveRef(ctx, ref)
	if err != nil {
		return KnownDevice{}, err
	}
	return KnownDevice{ID: d.ID, Name: d.Name}, nil
}

// BridgeConnected reports the transport state without touching the host.
func (s *Service) BridgeConnected() bool {
	return s.bridge.Connected()
}

// Status summarizes the session without failing when the bridge is down.
type Status struct {
	BridgeConnected bool        `json:"bridge_connected"`
	Project         string      `json:"project,omitempty"`
	TrackCount      int         `json:"track_count"`
	Selection       cursor.View `json:"selection"`
	KnownDevices    int         `json:"known_devices"`
}

func (s *Service) Status(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Status
	if name, err := s.host.ProjectName(ctx); err == nil {
		st.Project = name
	} else {
		s.logger.Debug("status: project name unavailable", "error", err)
	}
	if n, err := s.host.TrackCount(ctx); err == nil {
		st.TrackCount = n
	}
	// Read after the probes above, so a successful redial counts.
	st.BridgeConnected = s.bridge.Connected()
	st.Selection = s.cursor.View()
	if n, err := s.catalog.CountDevices(ctx); err == nil {
		st.KnownDevices = n
	}
	return st
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
