package pattern

import (
	"math"
	"sort"
)

// conversionFactor maps the vendor's 0..16 intensity range onto the
// script's 0..100 position range.
const conversionFactor = 6.25

// Action is one timed position in a script.
type Action struct {
	Pos int `json:"pos"`
	At  int `json:"at"`
}

// Metadata describes the script's provenance.
type Metadata struct {
	Bookmarks   map[string]any `json:"bookmarks"`
	Chapters    map[string]any `json:"chapters"`
	Performers  map[string]any `json:"performers"`
	Tags        map[string]any `json:"tags"`
	Title       string         `json:"title"`
	Creator     string         `json:"creator"`
	Description string         `json:"description"`
	Duration    int            `json:"duration"`
	License     string         `json:"license"`
	ScriptURL   string         `json:"script_url"`
	Type        string         `json:"type"`
	VideoURL    string         `json:"video_url"`
	Notes       string         `json:"notes"`
}

// Script is the normalized timed-action artifact. Immutable once written
// to the cache.
type Script struct {
	Version  string   `json:"version"`
	Range    int      `json:"range"`
	Inverted bool     `json:"inverted"`
	Metadata Metadata `json:"metadata"`
	Actions  []Action `json:"actions"`
}

// rawAction is one entry of the vendor pattern body.
type rawAction struct {
	T int     `json:"t"`
	V float64 `json:"v"`
}

// roundHalfUp rounds to the nearest integer with .5 rounding up.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// convert derives a Script from the raw vendor action list.
//
// Entries with a zero timestamp are sentinels and are skipped. A zero
// value maps to position 0; anything else is scaled by conversionFactor.
// Both position and timestamp are rounded half-up, and the result is
// stable-sorted ascending by timestamp so equal-timestamp entries keep
// their input order.
func convert(raw []rawAction, title string, durationMs int) *Script {
	script := &Script{
		Version:  "1.0",
		Range:    100,
		Inverted: false,
		Metadata: Metadata{
			Bookmarks:   map[string]any{},
			Chapters:    map[string]any{},
			Performers:  map[string]any{},
			Tags:        map[string]any{},
			Title:       title,
			Creator:     "Pulse Link Bridge",
			Description: "Auto-downloaded from Lovense",
			Duration:    durationMs,
			License:     "Open",
			Type:        "basic",
			Notes:       "Converted from Lovense to Funscript",
		},
		Actions: make([]Action, 0, len(raw)),
	}

	for _, a := range raw {
		if a.T == 0 {
			continue
		}

		pos := 0.0
		if a.V != 0 {
			pos = a.V * conversionFactor
		}

		script.Actions = append(script.Actions, Action{
			Pos: roundHalfUp(pos),
			At:  roundHalfUp(float64(a.T)),
		})
	}

	sort.SliceStable(script.Actions, func(i, j int) bool {
		return script.Actions[i].At < script.Actions[j].At
	})

	return script
}
