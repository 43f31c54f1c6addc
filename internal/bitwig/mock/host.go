// Package mock provides an in-memory bitwig.Host for tests and for running
// the gateway without a DAW. It models tracks, device chains and remote
// control pages, records every call, and can delay the visibility of
// inserted devices the way the real host does.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/patchgrid/bitwigd/internal/bitwig"
)

// Call is one recorded host invocation. Only the fields relevant to the
// method are set; Device doubles as the chain position for device.insert.
type Call struct {
	Method string
	Track  int
	Device int
	Page   int
	Slot   int
	Value  float64
	Kind   string
	ID     string
}

// Slot is a populated remote control. Format, when set, derives the display
// string from a written value; the default formatter prints two decimals.
type Slot struct {
	Index   int
	Name    string
	Value   float64
	Display string
	Format  func(float64) string
}

// Page is one remote controls page of a device.
type Page struct {
	Name  string
	Slots []*Slot
}

// Device is one entry in a track's chain.
type Device struct {
	ID    uuid.UUID
	Name  string
	Pages []*Page
}

// Track holds a device chain plus inserts that have not become observable
// yet.
type Track struct {
	Kind    bitwig.TrackKind
	Name    string
	devices []*Device
	pending []*pendingInsert
}

type pendingInsert struct {
	device    *Device
	position  int
	remaining int
}

// Host is the fake. Configure the project with AddTrack/AddDevice before
// use; the builders are not safe for concurrent use with host calls.
type Host struct {
	// Project is the name reported by ProjectName.
	Project string
	// InsertLag is how many chain observations (device.count or
	// device.exists) still see the pre-insert state after an insert.
	InsertLag int
	// Fail maps a method name to an error returned whenever that method is
	// called. The call is still recorded.
	Fail map[string]error

	mu        sync.Mutex
	tracks    []*Track
	selTrack  int
	selDevice int
	selPage   int
	calls     []Call
}

// NewHost returns an empty project with nothing selected.
func NewHost(project string) *Host {
	return &Host{
		Project:   project,
		Fail:      make(map[string]error),
		selTrack:  -1,
		selDevice: -1,
	}
}

// AddTrack appends a track and returns it for chaining device setup.
func (h *Host) AddTrack(kind bitwig.TrackKind, name string) *Track {
	t := &Track{Kind: kind, Name: name}
	h.tracks = append(h.tracks, t)
	return t
}

// AddDevice appends a device to the track's chain.
func (t *Track) AddDevice(id uuid.UUID, name string, pages ...*Page) *Device {
	d := &Device{ID: id, Name: name, Pages: pages}
	t.devices = append(t.devices, d)
	return d
}

// NewPage builds a remote controls page.
func NewPage(name string, slots ...*Slot) *Page {
	return &Page{Name: name, Slots: slots}
}

// NewSlot builds a populated slot with a fixed initial display string.
func NewSlot(index int, name string, value float64, display string) *Slot {
	return &Slot{Index: index, Name: name, Value: value, Display: display}
}

// Calls returns a copy of the recorded call log.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Call, len(h.calls))
	copy(out, h.calls)
	return out
}

// CallCount counts recorded calls of one method.
func (h *Host) CallCount(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ChainLen reports the track's chain length including inserts that are
// still propagating.
func (h *Host) ChainLen(track int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if track < 0 || track >= len(h.tracks) {
		return 0
	}
	t := h.tracks[track]
	return len(t.devices) + len(t.pending)
}

// TrackAt exposes a track for assertions.
func (h *Host) TrackAt(track int) *Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	if track < 0 || track >= len(h.tracks) {
		return nil
	}
	return h.tracks[track]
}

func (h *Host) rec(c Call) {
	h.calls = append(h.calls, c)
}

func (h *Host) failure(method string) error {
	if err, ok := h.Fail[method]; ok && err != nil {
		return err
	}
	return nil
}

// observe materializes pending inserts whose lag has run out. Called on
// every chain observation.
func (t *Track) observe() {
	if len(t.pending) == 0 {
		return
	}
	var still []*pendingInsert
	for _, p := range t.pending {
		if p.remaining > 0 {
			p.remaining--
			still = append(still, p)
			continue
		}
		t.materialize(p.device, p.position)
	}
	t.pending = still
}

func (t *Track) materialize(d *Device, pos int) {
	if pos > len(t.devices) {
		pos = len(t.devices)
	}
	chain := make([]*Device, 0, len(t.devices)+1)
	chain = append(chain, t.devices[:pos]...)
	chain = append(chain, d)
	chain = append(chain, t.devices[pos:]...)
	t.devices = chain
}

func (h *Host) ProjectName(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "project.name"})
	if err := h.failure("project.name"); err != nil {
		return "", err
	}
	return h.Project, nil
}

func (h *Host) TrackCount(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "track.count"})
	if err := h.failure("track.count"); err != nil {
		return 0, err
	}
	return len(h.tracks), nil
}

func (h *Host) TrackExists(ctx context.Context, track int) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "track.exists", Track: track})
	if err := h.failure("track.exists"); err != nil {
		return false, err
	}
	return track >= 0 && track < len(h.tracks), nil
}

func (h *Host) SelectTrack(ctx context.Context, track int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "track.select", Track: track})
	if err := h.failure("track.select"); err != nil {
		return err
	}
	if track < 0 || track >= len(h.tracks) {
		return fmt.Errorf("track %d: %w", track, bitwig.ErrTrackNotFound)
	}
	h.selTrack = track
	h.selDevice = -1
	h.selPage = 0
	return nil
}

func (h *Host) CreateTrack(ctx context.Context, kind bitwig.TrackKind) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "track.create", Kind: string(kind)})
	if err := h.failure("track.create"); err != nil {
		return err
	}
	name := fmt.Sprintf("%s %d", kind, len(h.tracks)+1)
	h.tracks = append(h.tracks, &Track{Kind: kind, Name: name})
	return nil
}

func (h *Host) DeviceCount(ctx context.Context, track int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "device.count", Track: track})
	if err := h.failure("device.count"); err != nil {
		return 0, err
	}
	if track < 0 || track >= len(h.tracks) {
		return 0, fmt.Errorf("track %d: %w", track, bitwig.ErrTrackNotFound)
	}
	t := h.tracks[track]
	t.observe()
	return len(t.devices), nil
}

func (h *Host) DeviceExists(ctx context.Context, track, device int) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "device.exists", Track: track, Device: device})
	if err := h.failure("device.exists"); err != nil {
		return false, err
	}
	if track < 0 || track >= len(h.tracks) {
		return false, fmt.Errorf("track %d: %w", track, bitwig.ErrTrackNotFound)
	}
	t := h.tracks[track]
	t.observe()
	return device >= 0 && device < len(t.devices), nil
}

func (h *Host) SelectDevice(ctx context.Context, track, device int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "device.select", Track: track, Device: device})
	if err := h.failure("device.select"); err != nil {
		return err
	}
	if track < 0 || track >= len(h.tracks) {
		return fmt.Errorf("track %d: %w", track, bitwig.ErrTrackNotFound)
	}
	t := h.tracks[track]
	if device < 0 || device >= len(t.devices) {
		return fmt.Errorf("device %d on track %d: %w", device, track, bitwig.ErrDeviceNotFound)
	}
	h.selTrack = track
	h.selDevice = device
	h.selPage = 0
	return nil
}

func (h *Host) InsertDevice(ctx context.Context, track, position int, id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "device.insert", Track: track, Device: position, ID: id.String()})
	if err := h.failure("device.insert"); err != nil {
		return err
	}
	if track < 0 || track >= len(h.tracks) {
		return fmt.Errorf("track %d: %w", track, bitwig.ErrTrackNotFound)
	}
	t := h.tracks[track]
	if h.InsertLag <= 0 {
		t.materialize(&Device{ID: id}, position)
		return nil
	}
	t.pending = append(t.pending, &pendingInsert{
		device:    &Device{ID: id},
		position:  position,
		remaining: h.InsertLag,
	})
	return nil
}

func (h *Host) DeviceName(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "device.name"})
	if err := h.failure("device.name"); err != nil {
		return "", err
	}
	d, err := h.selectedDevice()
	if err != nil {
		return "", err
	}
	return d.Name, nil
}

func (h *Host) PageCount(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "page.count"})
	if err := h.failure("page.count"); err != nil {
		return 0, err
	}
	d, err := h.selectedDevice()
	if err != nil {
		return 0, err
	}
	return len(d.Pages), nil
}

func (h *Host) PageNames(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "page.names"})
	if err := h.failure("page.names"); err != nil {
		return nil, err
	}
	d, err := h.selectedDevice()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		names[i] = p.Name
	}
	return names, nil
}

func (h *Host) SelectPage(ctx context.Context, page int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "page.select", Page: page})
	if err := h.failure("page.select"); err != nil {
		return err
	}
	d, err := h.selectedDevice()
	if err != nil {
		return err
	}
	// The host clamps out-of-range page selection instead of failing.
	if page < 0 {
		page = 0
	}
	if n := len(d.Pages); n > 0 && page >= n {
		page = n - 1
	}
	h.selPage = page
	return nil
}

func (h *Host) PageParameters(ctx context.Context) ([]bitwig.ParameterSlot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "page.params"})
	if err := h.failure("page.params"); err != nil {
		return nil, err
	}
	page, err := h.selectedPage()
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}
	out := make([]bitwig.ParameterSlot, 0, len(page.Slots))
	for _, s := range page.Slots {
		if s == nil {
			continue
		}
		out = append(out, bitwig.ParameterSlot{
			Index:   s.Index,
			Name:    s.Name,
			Value:   s.Value,
			Display: s.Display,
		})
	}
	return out, nil
}

func (h *Host) SetParameter(ctx context.Context, slot int, value float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "param.set", Slot: slot, Value: value})
	if err := h.failure("param.set"); err != nil {
		return err
	}
	page, err := h.selectedPage()
	if err != nil {
		return err
	}
	s := findSlot(page, slot)
	if s == nil {
		// Writing an unassigned slot is a host-side no-op.
		return nil
	}
	s.Value = value
	if s.Format != nil {
		s.Display = s.Format(value)
	} else {
		s.Display = fmt.Sprintf("%.2f", value)
	}
	return nil
}

func (h *Host) ParameterDisplay(ctx context.Context, slot int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec(Call{Method: "param.display", Slot: slot})
	if err := h.failure("param.display"); err != nil {
		return "", err
	}
	page, err := h.selectedPage()
	if err != nil {
		return "", err
	}
	if s := findSlot(page, slot); s != nil {
		return s.Display, nil
	}
	return "", nil
}

func (h *Host) selectedDevice() (*Device, error) {
	if h.selTrack < 0 || h.selTrack >= len(h.tracks) {
		return nil, fmt.Errorf("no track selected: %w", bitwig.ErrTrackNotFound)
	}
	t := h.tracks[h.selTrack]
	if h.selDevice < 0 || h.selDevice >= len(t.devices) {
		return nil, fmt.Errorf("no device selected: %w", bitwig.ErrDeviceNotFound)
	}
	return t.devices[h.selDevice], nil
}

func (h *Host) selectedPage() (*Page, error) {
	d, err := h.selectedDevice()
	if err != nil {
		return nil, err
	}
	if len(d.Pages) == 0 {
		return nil, nil
	}
	page := h.selPage
	if page >= len(d.Pages) {
		page = len(d.Pages) - 1
	}
	return d.Pages[page], nil
}

func findSlot(page *Page, index int) *Slot {
	if page == nil {
		return nil
	}
	for _, s := range page.Slots {
		if s != nil && s.Index == index {
			return s
		}
	}
	return nil
}
