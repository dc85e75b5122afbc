// SPDX-License-Identifier: MPL-2.0

package version

import (
	"testing"
)

func TestParseEngineRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty means all", input: "", want: "*"},
		{name: "star means all", input: "*", want: "*"},
		{name: "single line", input: "5.3", want: "5.3"},
		{name: "span", input: "5.0-5.3", want: "5.0-5.3"},
		{name: "span with spaces", input: "5.0 - 5.3", want: "5.0-5.3"},
		{name: "open max", input: ">=5.1", want: ">=5.1"},
		{name: "open min", input: "<=5.3", want: "<=5.3"},
		{name: "degenerate span", input: "5.2-5.2", want: "5.2"},
		{name: "reversed bounds", input: "5.3-5.0", wantErr: true},
		{name: "garbage", input: "five", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := ParseEngineRange(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEngineRange(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEngineRange(%q) returned unexpected error: %v", tt.input, err)
			}
			if got := r.String(); got != tt.want {
				t.Errorf("ParseEngineRange(%q).String() = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEngineRangeContains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rng     string
		version string
		want    bool
	}{
		{name: "span includes lower bound", rng: "5.0-5.3", version: "5.0.0", want: true},
		{name: "span includes upper bound", rng: "5.0-5.3", version: "5.3.0", want: true},
		{name: "span excludes above", rng: "5.0-5.3", version: "5.4.0", want: false},
		{name: "span excludes below", rng: "5.1-5.3", version: "5.0.2", want: false},
		{name: "patch ignored", rng: "5.3", version: "5.3.2", want: true},
		{name: "single line excludes neighbors", rng: "5.3", version: "5.2.0", want: false},
		{name: "open max includes far future", rng: ">=5.1", version: "6.0.0", want: true},
		{name: "open max excludes below", rng: ">=5.1", version: "5.0.0", want: false},
		{name: "unbounded includes everything", rng: "*", version: "4.27.0", want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := MustParseEngineRange(tt.rng)
			v := MustParse(tt.version)
			if got := r.Contains(v); got != tt.want {
				t.Errorf("EngineRange(%q).Contains(%s) = %v, want %v", tt.rng, tt.version, got, tt.want)
			}
		})
	}
}

func TestEngineRangeZeroValue(t *testing.T) {
	t.Parallel()

	var r EngineRange
	if !r.IsUnbounded() {
		t.Error("zero EngineRange should be unbounded")
	}
	if !r.Contains(MustParse("5.4.0")) {
		t.Error("zero EngineRange should contain any version")
	}
}
