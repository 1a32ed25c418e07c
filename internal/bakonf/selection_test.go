package bakonf

import (
	"reflect"
	"testing"
)

func TestSelection_AddsAncestorsFirst(t *testing.T) {
	s := newSelection()
	s.add("/etc/apt/sources.list.d/main.list")
	s.add("/etc/apt/apt.conf")
	s.add("/etc/hosts")
	s.add("/etc/apt")
	s.add("/motd")

	want := []string{
		"/etc",
		"/etc/apt",
		"/etc/apt/sources.list.d",
		"/etc/apt/sources.list.d/main.list",
		"/etc/apt/apt.conf",
		"/etc/hosts",
		"/motd",
	}
	if got := s.paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("paths() = %v, want %v", got, want)
	}
	for _, p := range s.paths() {
		if p == "/" {
			t.Error("root must never be selected")
		}
	}
}
