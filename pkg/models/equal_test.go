package models

import (
	"testing"
	"time"
)

func TestEquivalent(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	now := time.Now()

	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"equal strings", "x", "x", true},
		{"different strings", "x", "y", false},
		{"int vs int64", int(5), int64(5), true},
		{"int vs float", int(5), float64(5), true},
		{"different numbers", 5, 6, false},
		{"number vs string", 5, "5", false},
		{"nil vs nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"nil slice vs empty slice", []string(nil), []string{}, true},
		{"equal slices", []int{1, 2}, []int{1, 2}, true},
		{"different length", []int{1}, []int{1, 2}, false},
		{"nil map vs empty map", map[string]int(nil), map[string]int{}, true},
		{"equal maps", map[string]int{"a": 1}, map[string]int{"a": 1}, true},
		{"missing key", map[string]int{"a": 1}, map[string]int{"b": 1}, false},
		{"same instant different zone", now, now.In(loc), true},
		{"different instants", now, now.Add(time.Second), false},
		{"byte slices", []byte("ab"), []byte("ab"), true},
		{"pointer indirection", ptr("x"), "x", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equivalent(tc.a, tc.b); got != tc.want {
				t.Errorf("Equivalent(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestEquivalentStructs(t *testing.T) {
	a := Story{Site: "ao3", SiteID: 1, Stats: map[string]int64{"kudos": 2}}
	b := Story{Site: "ao3", SiteID: 1, Stats: map[string]int64{"kudos": 2}, Tags: []string{}}
	if !Equivalent(a, b) {
		t.Error("stories with nil vs empty tags should compare equal")
	}
	b.Stats["kudos"] = 3
	if Equivalent(a, b) {
		t.Error("differing stats should not compare equal")
	}
}
