package model

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStateStage(t *testing.T) {
	cases := map[State]Stage{
		StateIdle:      StageUpload,
		StateUploaded:  StageVoxelize,
		StateVoxelized: StageMapBlocks,
		StateMapped:    StageExport,
		StateExported:  StageExport,
	}
	for st, want := range cases {
		if got := st.Stage(); got != want {
			t.Errorf("%v.Stage() = %v, want %v", st, got, want)
		}
	}
	if StageMapBlocks.String() != "map-blocks" {
		t.Errorf("StageMapBlocks.String() = %q", StageMapBlocks.String())
	}
	if State(42).String() != "state(42)" {
		t.Errorf("unknown state string = %q", State(42).String())
	}
}

func TestParseExportFormat(t *testing.T) {
	for _, s := range []string{"litematic", "schem"} {
		f, err := ParseExportFormat(s)
		if err != nil || string(f) != s {
			t.Errorf("ParseExportFormat(%q) = %q, %v", s, f, err)
		}
	}
	if _, err := ParseExportFormat("nbt"); err == nil {
		t.Error("expected error for nbt")
	}
}

func TestVoxelGridJSON(t *testing.T) {
	var resp struct {
		Voxels VoxelGrid `json:"voxels"`
	}
	body := `{"voxels": {"0,0,0": {"r": 255, "g": 0, "b": 0}, "1,-2,3": {"r": 0, "g": 128, "b": 64}}}`
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := VoxelGrid{
		{0, 0, 0}:  {R: 255},
		{1, -2, 3}: {G: 128, B: 64},
	}
	if diff := cmp.Diff(want, resp.Voxels); diff != "" {
		t.Errorf("voxels mismatch (-want +got):\n%s", diff)
	}

	data, err := json.Marshal(resp.Voxels)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back VoxelGrid
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal back: %v", err)
	}
	if diff := cmp.Diff(want, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestVoxelGridJSON_BadKey(t *testing.T) {
	var g VoxelGrid
	for _, body := range []string{`{"1,2": {}}`, `{"a,b,c": {}}`} {
		if err := json.Unmarshal([]byte(body), &g); err == nil {
			t.Errorf("expected error for %s", body)
		}
	}
}

func TestSortedKeys(t *testing.T) {
	g := VoxelGrid{{1, 0, 0}: {}, {0, 5, 0}: {}, {0, 1, 2}: {}, {0, 1, 1}: {}}
	want := []VoxelKey{{0, 1, 1}, {0, 1, 2}, {0, 5, 0}, {1, 0, 0}}
	if diff := cmp.Diff(want, g.SortedKeys()); diff != "" {
		t.Errorf("SortedKeys mismatch (-want +got):\n%s", diff)
	}
}

func TestColorHex(t *testing.T) {
	cases := map[Color]string{
		{R: 255, G: 0, B: 0}:      "#ff0000",
		{R: 300, G: -4, B: 127.6}: "#ff0080",
		{R: 240, G: 244, B: 248}:  "#f0f4f8",
	}
	for c, want := range cases {
		if got := c.Hex(); got != want {
			t.Errorf("%+v.Hex() = %s, want %s", c, got, want)
		}
	}
}

func TestBlockListGrouping(t *testing.T) {
	blocks := BlockList{
		{Name: "minecraft:dirt", Position: BlockPos{0, 0, 0}},
		{Name: "", Position: BlockPos{1, 0, 0}},
		{Name: "minecraft:dirt", Position: BlockPos{0, 0, 0}},
		{Name: "minecraft:stone", Position: BlockPos{2, 0, 0}},
	}

	if diff := cmp.Diff([]string{"minecraft:dirt", "minecraft:stone"}, blocks.Palette()); diff != "" {
		t.Errorf("Palette mismatch (-want +got):\n%s", diff)
	}

	groups := blocks.GroupByType()
	want := map[string][]BlockPos{
		"minecraft:dirt":  {{0, 0, 0}, {0, 0, 0}},
		"minecraft:stone": {{1, 0, 0}, {2, 0, 0}},
	}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Errorf("GroupByType mismatch (-want +got):\n%s", diff)
	}
}
