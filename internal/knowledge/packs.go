package knowledge

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

//go:embed seed/*.json
var seedFS embed.FS

// Pack is one knowledge file: devices sharing a category, shipped embedded
// or dropped into the knowledge directory by the user.
type Pack struct {
	Category string       `json:"category"`
	Vendor   string       `json:"vendor,omitempty"`
	Devices  []PackDevice `json:"devices"`
}

// PackDevice describes one insertable device.
type PackDevice struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	WriteFirstPage *int       `json:"write_first_page,omitempty"`
	Pages          []PackPage `json:"pages,omitempty"`
}

// PackPage names one remote controls page and its known slots.
type PackPage struct {
	Index      int         `json:"index"`
	Name       string      `json:"name"`
	Parameters []PackParam `json:"parameters,omitempty"`
}

// PackParam names one slot on a page.
type PackParam struct {
	Slot int    `json:"slot"`
	Name string `json:"name"`
}

type loadedPack struct {
	Pack
	source string
}

// NameKey normalizes a device name for lookups: Unicode NFC, trimmed,
// lowercased. Names arriving from the DAW and from pack files must collide
// when a human would call them the same.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(name)))
}

// collectPacks returns embedded packs followed by user packs from the
// knowledge directory, in stable order. User packs loaded later override
// embedded devices with the same id.
func (c *Catalog) collectPacks() ([]loadedPack, error) {
	var packs []loadedPack

	entries, err := seedFS.ReadDir("seed")
	if err != nil {
		return nil, fmt.Errorf("read embedded packs: %w", err)
	}
	for _, entry := range entries {
		raw, err := seedFS.ReadFile("seed/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded pack %s: %w", entry.Name(), err)
		}
		var p Pack
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse embedded pack %s: %w", entry.Name(), err)
		}
		packs = append(packs, loadedPack{Pack: p, source: "embedded:" + entry.Name()})
	}

	if c.dir == "" {
		return packs, nil
	}
	dirEntries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return packs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read knowledge dir %s: %w", c.dir, err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(c.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("skipping unreadable knowledge pack", "path", path, "err", err)
			continue
		}
		var p Pack
		if err := json.Unmarshal(raw, &p); err != nil {
			// One broken file must not take the whole catalog down.
			c.logger.Warn("skipping malformed knowledge pack", "path", path, "err", err)
			continue
		}
		packs = append(packs, loadedPack{Pack: p, source: name})
	}
	return packs, nil
}

type flatDevice struct {
	id     uuid.UUID
	name   string
	cat    string
	vendor string
	desc   string
	first  *int
	source string
	pages  []PackPage
}

// flatten merges packs in load order; a later device with the same id
// replaces the earlier one entirely, pages included.
func flatten(packs []loadedPack, warn func(msg string, args ...any)) []flatDevice {
	byID := make(map[uuid.UUID]flatDevice)
	order := make([]uuid.UUID, 0)
	for _, p := range packs {
		for _, d := range p.Devices {
			id, err := uuid.Parse(d.ID)
			if err != nil {
				warn("skipping device with invalid id", "pack", p.source, "device", d.Name, "err", err)
				continue
			}
			if d.Name == "" {
				warn("skipping unnamed device", "pack", p.source, "id", d.ID)
				continue
			}
			if _, seen := byID[id]; !seen {
				order = append(order, id)
			}
			byID[id] = flatDevice{
				id:     id,
				name:   d.Name,
				cat:    p.Category,
				vendor: p.Vendor,
				desc:   d.Description,
				first:  d.WriteFirstPage,
				source: p.source,
				pages:  d.Pages,
			}
		}
	}
	out := make([]flatDevice, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
