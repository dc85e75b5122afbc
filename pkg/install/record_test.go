// SPDX-License-Identifier: MPL-2.0

package install

import (
	"errors"
	"reflect"
	"testing"

	"pluginpm/pkg/resolver"
)

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := &Record{
		Version: recordVersion,
		Plugins: []InstalledPackage{
			{
				Name:       "terrain-tools",
				Version:    "2.1.0",
				Checksum:   "beef",
				Path:       "Plugins/terrain-tools",
				RequiredBy: []string{resolver.RootName},
				Roots:      []string{"terrain-tools"},
			},
			{
				Name:       "lib",
				Version:    "1.4.0",
				Checksum:   "cafe",
				Path:       "Plugins/lib",
				RequiredBy: []string{"terrain-tools"},
				Roots:      []string{"terrain-tools"},
			},
		},
	}

	if err := rec.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadRecord(dir)
	if err != nil {
		t.Fatalf("LoadRecord() error = %v", err)
	}
	if loaded.Version != recordVersion {
		t.Errorf("Version = %d, want %d", loaded.Version, recordVersion)
	}
	if len(loaded.Plugins) != 2 {
		t.Fatalf("len(Plugins) = %d, want 2", len(loaded.Plugins))
	}
	// Save sorts entries by name.
	if loaded.Plugins[0].Name != "lib" || loaded.Plugins[1].Name != "terrain-tools" {
		t.Errorf("entries not sorted: %s, %s", loaded.Plugins[0].Name, loaded.Plugins[1].Name)
	}
	if got, ok := loaded.Package("lib"); !ok || got.Checksum != "cafe" {
		t.Errorf("Package(lib) = %+v, %v", got, ok)
	}
}

func TestLoadRecordMissing(t *testing.T) {
	t.Parallel()

	if _, err := LoadRecord(t.TempDir()); !errors.Is(err, ErrNoRecord) {
		t.Errorf("LoadRecord() error = %v, want ErrNoRecord", err)
	}
}

func TestRecordWhy(t *testing.T) {
	t.Parallel()

	// app-a and app-b are manifest dependencies; lib is shared below
	// them; util sits at the bottom of a chain through lib.
	rec := &Record{
		Version: recordVersion,
		Plugins: []InstalledPackage{
			{Name: "app-a", RequiredBy: []string{resolver.RootName}},
			{Name: "app-b", RequiredBy: []string{resolver.RootName}},
			{Name: "lib", RequiredBy: []string{"app-a", "app-b"}},
			{Name: "util", RequiredBy: []string{"lib"}},
		},
	}

	tests := []struct {
		name   string
		pkg    string
		want   [][]string
		wantOK bool
	}{
		{
			name:   "direct dependency",
			pkg:    "app-a",
			want:   [][]string{{"app-a"}},
			wantOK: true,
		},
		{
			name: "shared through two roots",
			pkg:  "lib",
			want: [][]string{
				{"app-a", "lib"},
				{"app-b", "lib"},
			},
			wantOK: true,
		},
		{
			name: "transitive chain",
			pkg:  "util",
			want: [][]string{
				{"app-a", "lib", "util"},
				{"app-b", "lib", "util"},
			},
			wantOK: true,
		},
		{
			name:   "unknown package",
			pkg:    "ghost",
			want:   nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := rec.Why(tt.pkg)
			if ok != tt.wantOK {
				t.Fatalf("Why(%s) ok = %v, want %v", tt.pkg, ok, tt.wantOK)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Why(%s) = %v, want %v", tt.pkg, got, tt.want)
			}
		})
	}
}

func TestRecordWhyDirectAndTransitive(t *testing.T) {
	t.Parallel()

	// lib is both a manifest dependency and required by app.
	rec := &Record{
		Version: recordVersion,
		Plugins: []InstalledPackage{
			{Name: "app", RequiredBy: []string{resolver.RootName}},
			{Name: "lib", RequiredBy: []string{resolver.RootName, "app"}},
		},
	}

	got, ok := rec.Why("lib")
	want := [][]string{{"app", "lib"}, {"lib"}}
	if !ok || !reflect.DeepEqual(got, want) {
		t.Errorf("Why(lib) = %v, %v, want %v", got, ok, want)
	}
}

func TestRecordWhyCycleTerminates(t *testing.T) {
	t.Parallel()

	rec := &Record{
		Version: recordVersion,
		Plugins: []InstalledPackage{
			{Name: "alpha", RequiredBy: []string{resolver.RootName, "beta"}},
			{Name: "beta", RequiredBy: []string{"alpha"}},
		},
	}

	got, ok := rec.Why("beta")
	want := [][]string{{"alpha", "beta"}}
	if !ok || !reflect.DeepEqual(got, want) {
		t.Errorf("Why(beta) = %v, %v, want %v", got, ok, want)
	}
}
