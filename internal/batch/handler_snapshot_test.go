package batch

import (
	"context"
	"strings"
	"testing"

	"github.com/patchgrid/bitwigd/internal/bitwig"
	"github.com/patchgrid/bitwigd/internal/bitwig/mock"
)

func eqPlusDevice() []*mock.Page {
	return []*mock.Page{
		mock.NewPage("Band Types",
			mock.NewSlot(0, "Band 1 Type", 0.0, "Off"),
			mock.NewSlot(1, "Band 2 Type", 0.0, "Off"),
		),
		mock.NewPage("Frequencies",
			mock.NewSlot(0, "Band 1 Freq", 0.3, "107 Hz"),
			mock.NewSlot(1, "Band 2 Freq", 0.6, "1.2 kHz"),
		),
		mock.NewPage("Gains",
			mock.NewSlot(0, "Band 1 Gain", 0.5, "0.0 dB"),
			mock.NewSlot(1, "Band 2 Gain", 0.5, "0.0 dB"),
		),
	}
}

func TestApplySnapshotHonorsWriteFirstPage(t *testing.T) {
	host := mock.NewHost("Demo")
	host.AddTrack(bitwig.TrackAudio, "Gtr").AddDevice(eqID, "EQ+", eqPlusDevice()...)

	units := &fakeUnits{firstPage: map[string]int{"EQ+": 0}}
	exec := newTestExecutor(host, units)

	resp := exec.Run(context.Background(), Request{
		Operations: []Operation{
			op(t, TypeApplySnapshot, map[string]any{
				"position": 0,
				"pages": []map[string]any{
					{"page_index": 2, "parameters": []map[string]any{{"index": 0, "value": 0.7}}},
					{"page_index": 0, "parameters": []map[string]any{{"index": 0, "value": 0.4}}},
					{"page_index": 1, "parameters": []map[string]any{{"index": 1, "value": 0.5}}},
				},
				"track_indices": []int{0},
			}),
		},
	})

	res := resp.Results[0]
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}

	var order []int
	for _, c := range host.Calls() {
		if c.Method == "page.select" {
			order = append(order, c.Page)
		}
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("expected write-first page 0 then submitted order, got %v", order)
	}

	entry := res.Payload.(applySnapshotPayload).Tracks[0]
	if entry.PagesUpdated != 3 || entry.Device != "EQ+" {
		t.Fatalf("unexpected track entry %+v", entry)
	}
}

func TestApplySnapshotSkipsMatchingParameters(t *testing.T) {
	host := mock.NewHost("Demo")
	host.AddTrack(bitwig.TrackAudio, "Gtr").AddDevice(eqID, "EQ+", eqPlusDevice()...)
	exec := newTestExecutor(host, nil)

	resp := exec.Run(context.Background(), Request{
		Operations: []Operation{
			op(t, TypeApplySnapshot, map[string]any{
				"position": 0,
				"pages": []map[string]any{
					{
						"page_index": 1,
						"page_name":  "Frequencies",
						"parameters": []map[string]any{
							{"index": 0, "value": 0.3, "displayed_value": "107 Hz"},
							{"index": 1, "value": 0.9, "displayed_value": "4.0 kHz"},
						},
					},
				},
				"track_indices": []int{0},
			}),
		},
	})

	entry := resp.Results[0].Payload.(applySnapshotPayload).Tracks[0]
	if len(entry.Pages) != 1 {
		t.Fatalf("expected one page result, got %+v", entry)
	}
	page := entry.Pages[0]
	if page.ParametersSent != 1 || page.ParametersSkipped != 1 {
		t.Fatalf("unexpected page result %+v", page)
	}
	if len(page.SkippedDetails) != 1 || page.SkippedDetails[0].Index != 0 {
		t.Fatalf("skip details must identify the slot, got %+v", page.SkippedDetails)
	}
	if page.PageName != "Frequencies" {
		t.Fatalf("expected submitted page name, got %q", page.PageName)
	}
	if got := host.CallCount("param.set"); got != 1 {
		t.Fatalf("expected one write, got %d", got)
	}
}

func TestApplySnapshotIgnoresEmptyPages(t *testing.T) {
	host := mock.NewHost("Demo")
	host.AddTrack(bitwig.TrackAudio, "Gtr").AddDevice(eqID, "EQ+", eqPlusDevice()...)
	exec := newTestExecutor(host, nil)

	resp := exec.Run(context.Background(), Request{
		Operations: []Operation{
			op(t, TypeApplySnapshot, map[string]any{
				"position": 0,
				"pages": []map[string]any{
					{"page_index": 0, "parameters": []map[string]any{}},
					{"page_index": 2, "parameters": []map[string]any{{"index": 0, "value": 0.6}}},
				},
				"track_indices": []int{0},
			}),
		},
	})

	entry := resp.Results[0].Payload.(applySnapshotPayload).Tracks[0]
	if entry.PagesUpdated != 1 {
		t.Fatalf("parameterless pages must not count as updated, got %+v", entry)
	}

	for _, c := range host.Calls() {
		if c.Method == "page.select" && c.Page != 2 {
			t.Fatalf("parameterless page was selected: %+v", c)
		}
	}
}

func TestApplySnapshotAcrossTracks(t *testing.T) {
	host := mock.NewHost("Demo")
	host.AddTrack(bitwig.TrackAudio, "Gtr L").AddDevice(eqID, "EQ+", eqPlusDevice()...)
	host.AddTrack(bitwig.TrackAudio, "Gtr R").AddDevice(eqID, "EQ+", eqPlusDevice()...)
	host.AddTrack(bitwig.TrackAudio, "Empty")
	exec := newTestExecutor(host, nil)

	resp := exec.Run(context.Background(), Request{
		Operations: []Operation{
			op(t, TypeApplySnapshot, map[string]any{
				"position": 0,
				"pages": []map[string]any{
					{"page_index": 1, "parameters": []map[string]any{{"index": 0, "value": 0.8}}},
				},
				"start_index": 0,
				"end_index":   2,
			}),
		},
	})

	res := resp.Results[0]
	if res.Status != StatusSuccess {
		t.Fatalf("expected success with per-track containment, got %+v", res)
	}
	tracks := res.Payload.(applySnapshotPayload).Tracks
	if len(tracks) != 3 {
		t.Fatalf("expected 3 track entries, got %d", len(tracks))
	}
	for i := 0; i < 2; i++ {
		if tracks[i].PagesUpdated != 1 || tracks[i].Error != "" {
			t.Fatalf("track %d should update one page: %+v", i, tracks[i])
		}
	}
	if tracks[2].Error == "" || tracks[2].PagesUpdated != 0 {
		t.Fatalf("bare track must report its missing device: %+v", tracks[2])
	}
}

func TestApplySnapshotRequiresPages(t *testing.T) {
	host := mock.NewHost("Demo")
	exec := newTestExecutor(host, nil)

	resp := exec.Run(context.Background(), Request{
		Operations: []Operation{
			op(t, TypeApplySnapshot, map[string]any{
				"position":      0,
				"pages":         []map[string]any{},
				"track_indices": []int{0},
			}),
		},
	})

	res := resp.Results[0]
	if res.Status != StatusError || !strings.Contains(res.Message, "pages are required") {
		t.Fatalf("expected pages validation, got %+v", res)
	}
}
