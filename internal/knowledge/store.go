// Package knowledge maintains the device catalog: which devices exist, the
// UUIDs the host inserts them by, their remote control page layouts, and
// replay hints. The catalog is assembled from embedded seed packs plus user
// packs dropped into the knowledge directory, and served from SQLite.
package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Catalog lookup failures.
var (
	// ErrUnknownDevice indicates a name reference matched nothing.
	ErrUnknownDevice = errors.New("device not in catalog")

	// ErrAmbiguousRef indicates a name reference matched more than one
	// catalog entry; the caller must use the UUID instead.
	ErrAmbiguousRef = errors.New("device reference is ambiguous")
)

// Device is a catalog entry. Pages are only populated by Get.
type Device struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Vendor         string    `json:"vendor,omitempty"`
	Description    string    `json:"description,omitempty"`
	WriteFirstPage *int      `json:"write_first_page,omitempty"`
	Source         string    `json:"source"`
	Pages          []Page    `json:"pages,omitempty"`
}

// Page is one known remote controls page of a device.
type Page struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Parameters []Param `json:"parameters,omitempty"`
}

// Param is one known slot on a page.
type Param struct {
	Slot int    `json:"slot"`
	Name string `json:"name"`
}

// Catalog owns the catalog database and the knowledge directory.
type Catalog struct {
	db     *sql.DB
	dir    string
	logger *slog.Logger
}

// Open opens (or creates) the catalog database at path, migrates its
// schema, and loads all packs. dir may be empty to run on embedded packs
// alone.
func Open(ctx context.Context, path, dir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	c := &Catalog{db: db, dir: dir, logger: logger.With("component", "knowledge")}
	if err := c.Reload(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Reload re-reads every pack and atomically replaces the catalog contents.
// On failure the previous contents stay in place.
func (c *Catalog) Reload(ctx context.Context) error {
	packs, err := c.collectPacks()
	if err != nil {
		return err
	}
	devices := flatten(packs, c.logger.Warn)
	if err := c.replaceAll(ctx, devices); err != nil {
		return err
	}
	c.logger.Info("knowledge catalog loaded", "packs", len(packs), "devices", len(devices))
	return nil
}

func (c *Catalog) replaceAll(ctx context.Context, devices []flatDevice) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog swap: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM device_parameters",
		"DELETE FROM device_pages",
		"DELETE FROM devices",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear catalog: %w", err)
		}
	}

	const insertDevice = `INSERT INTO devices
		(id, name, name_key, category, vendor, description, write_first_page, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	const insertPage = `INSERT INTO device_pages (device_id, page_index, name) VALUES (?, ?, ?)`
	const insertParam = `INSERT INTO device_parameters (device_id, page_index, slot, name) VALUES (?, ?, ?, ?)`

	for _, d := range devices {
		var first any
		if d.first != nil {
			first = *d.first
		}
		if _, err := tx.ExecContext(ctx, insertDevice,
			d.id.String(), d.name, NameKey(d.name), d.cat, d.vendor, d.desc, first, d.source,
		); err != nil {
			return fmt.Errorf("insert device %s: %w", d.name, err)
		}
		for _, p := range d.pages {
			if _, err := tx.ExecContext(ctx, insertPage, d.id.String(), p.Index, p.Name); err != nil {
				return fmt.Errorf("insert page %d of %s: %w", p.Index, d.name, err)
			}
			for _, param := range p.Parameters {
				if _, err := tx.ExecContext(ctx, insertParam, d.id.String(), p.Index, param.Slot, param.Name); err != nil {
					return fmt.Errorf("insert parameter %d.%d of %s: %w", p.Index, param.Slot, d.name, err)
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog swap: %w", err)
	}
	return nil
}

const deviceColumns = `id, name, category, vendor, description, write_first_page, source`

func scanDevice(row interface{ Scan(...any) error }) (Device, error) {
	var (
		d     Device
		id    string
		first sql.NullInt64
	)
	if err := row.Scan(&id, &d.Name, &d.Category, &d.Vendor, &d.Description, &first, &d.Source); err != nil {
		return Device{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Device{}, fmt.Errorf("corrupt device id %q: %w", id, err)
	}
	d.ID = parsed
	if first.Valid {
		v := int(first.Int64)
		d.WriteFirstPage = &v
	}
	return d, nil
}

// ResolveRef resolves a device reference. A parseable UUID resolves even
// when the catalog has no entry for it (the host accepts any UUID); a name
// must match exactly one catalog entry after normalization.
func (c *Catalog) ResolveRef(ctx context.Context, ref string) (Device, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Device{}, fmt.Errorf("%w: empty reference", ErrUnknownDevice)
	}
	if id, err := uuid.Parse(ref); err == nil {
		dev, err := c.deviceByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return Device{ID: id}, nil
		}
		return dev, err
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE name_key = ? ORDER BY source", NameKey(ref))
	if err != nil {
		return Device{}, fmt.Errorf("resolve %q: %w", ref, err)
	}
	defer rows.Close()

	var matches []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return Device{}, fmt.Errorf("resolve %q: %w", ref, err)
		}
		matches = append(matches, d)
	}
	if err := rows.Err(); err != nil {
		return Device{}, fmt.Errorf("resolve %q: %w", ref, err)
	}
	switch len(matches) {
	case 0:
		return Device{}, fmt.Errorf("%q: %w", ref, ErrUnknownDevice)
	case 1:
		return matches[0], nil
	default:
		return Device{}, fmt.Errorf("%q matches %d devices: %w", ref, len(matches), ErrAmbiguousRef)
	}
}

func (c *Catalog) deviceByID(ctx context.Context, id uuid.UUID) (Device, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ?", id.String())
	return scanDevice(row)
}

// Get returns the full catalog entry including pages and slot names.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (Device, error) {
	d, err := c.deviceByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, fmt.Errorf("%s: %w", id, ErrUnknownDevice)
	}
	if err != nil {
		return Device{}, fmt.Errorf("load device %s: %w", id, err)
	}

	pageRows, err := c.db.QueryContext(ctx,
		"SELECT page_index, name FROM device_pages WHERE device_id = ? ORDER BY page_index", id.String())
	if err != nil {
		return Device{}, fmt.Errorf("load pages of %s: %w", id, err)
	}
	defer pageRows.Close()

	byIndex := make(map[int]*Page)
	for pageRows.Next() {
		var p Page
		if err := pageRows.Scan(&p.Index, &p.Name); err != nil {
			return Device{}, fmt.Errorf("load pages of %s: %w", id, err)
		}
		d.Pages = append(d.Pages, p)
	}
	if err := pageRows.Err(); err != nil {
		return Device{}, fmt.Errorf("load pages of %s: %w", id, err)
	}
	for i := range d.Pages {
		byIndex[d.Pages[i].Index] = &d.Pages[i]
	}

	paramRows, err := c.db.QueryContext(ctx,
		"SELECT page_index, slot, name FROM device_parameters WHERE device_id = ? ORDER BY page_index, slot", id.String())
	if err != nil {
		return Device{}, fmt.Errorf("load parameters of %s: %w", id, err)
	}
	defer paramRows.Close()
	for paramRows.Next() {
		var (
			pageIndex int
			param     Param
		)
		if err := paramRows.Scan(&pageIndex, &param.Slot, &param.Name); err != nil {
			return Device{}, fmt.Errorf("load parameters of %s: %w", id, err)
		}
		if page, ok := byIndex[pageIndex]; ok {
			page.Parameters = append(page.Parameters, param)
		}
	}
	if err := paramRows.Err(); err != nil {
		return Device{}, fmt.Errorf("load parameters of %s: %w", id, err)
	}
	return d, nil
}

// Search lists catalog entries, optionally filtered by category and by a
// case-insensitive name substring.
func (c *Catalog) Search(ctx context.Context, query, category string) ([]Device, error) {
	sqlQuery := "SELECT " + deviceColumns + " FROM devices"
	var (
		clauses []string
		args    []any
	)
	if category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, category)
	}
	if query != "" {
		clauses = append(clauses, "name_key LIKE ?")
		args = append(args, "%"+NameKey(query)+"%")
	}
	if len(clauses) > 0 {
		sqlQuery += " WHERE " + strings.Join(clauses, " AND ")
	}
	sqlQuery += " ORDER BY category, name"

	rows, err := c.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search devices: %w", err)
	}
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("search devices: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search devices: %w", err)
	}
	return devices, nil
}

// WriteFirstPage reports the page that must be written before the others
// when replaying a snapshot onto the named device.
func (c *Catalog) WriteFirstPage(ctx context.Context, deviceName string) (int, bool, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT write_first_page FROM devices WHERE name_key = ? AND write_first_page IS NOT NULL LIMIT 1",
		NameKey(deviceName))
	var first int
	err := row.Scan(&first)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("write-first hint for %q: %w", deviceName, err)
	}
	return first, true, nil
}

// CountDevices reports the catalog size.
func (c *Catalog) CountDevices(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices").Scan(&n); err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return n, nil
}
