// SPDX-License-Identifier: MPL-2.0

package version

import (
	"testing"
)

func TestParseConstraint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "caret", input: "^1.2.3"},
		{name: "tilde", input: "~1.2.3"},
		{name: "exact", input: "=1.2.3"},
		{name: "bare", input: "1.2.3"},
		{name: "greater equal", input: ">=1.0.0"},
		{name: "wildcard", input: "*"},
		{name: "compound range", input: ">=1.0.0 <2.0.0"},
		{name: "prerelease bound", input: ">=1.0.0-beta"},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "latest", wantErr: true},
		{name: "double operator", input: ">>1.0.0", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseConstraint(tt.input)
			if tt.wantErr && err == nil {
				t.Errorf("ParseConstraint(%q) succeeded, want error", tt.input)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ParseConstraint(%q) returned unexpected error: %v", tt.input, err)
			}
		})
	}
}

func TestConstraintMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		constraint string
		version    string
		want       bool
	}{
		{name: "caret within major", constraint: "^1.0.0", version: "1.2.0", want: true},
		{name: "caret excludes next major", constraint: "^1.0.0", version: "2.0.0", want: false},
		{name: "caret excludes lower", constraint: "^1.2.0", version: "1.1.9", want: false},
		{name: "caret zero major pins minor", constraint: "^0.2.3", version: "0.2.9", want: true},
		{name: "caret zero major excludes next minor", constraint: "^0.2.3", version: "0.3.0", want: false},
		{name: "caret zero minor pins patch", constraint: "^0.0.3", version: "0.0.3", want: true},
		{name: "caret zero minor excludes next patch", constraint: "^0.0.3", version: "0.0.4", want: false},
		{name: "tilde allows patch", constraint: "~1.2.3", version: "1.2.9", want: true},
		{name: "tilde excludes next minor", constraint: "~1.2.3", version: "1.3.0", want: false},
		{name: "bare is exact match", constraint: "1.2.3", version: "1.2.3", want: true},
		{name: "bare is exact mismatch", constraint: "1.2.3", version: "1.2.4", want: false},
		{name: "greater", constraint: ">1.0.0", version: "1.0.1", want: true},
		{name: "greater excludes equal", constraint: ">1.0.0", version: "1.0.0", want: false},
		{name: "less equal includes equal", constraint: "<=2.0.0", version: "2.0.0", want: true},
		{name: "wildcard matches anything", constraint: "*", version: "9.9.9", want: true},
		{name: "compound inside", constraint: ">=1.0.0 <2.0.0", version: "1.5.0", want: true},
		{name: "compound at upper bound", constraint: ">=1.0.0 <2.0.0", version: "2.0.0", want: false},
		{name: "prerelease ordered below release", constraint: ">=1.0.0", version: "1.0.0-rc.1", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := MustParseConstraint(tt.constraint)
			v := MustParse(tt.version)
			if got := c.Matches(v); got != tt.want {
				t.Errorf("Constraint(%q).Matches(%s) = %v, want %v", tt.constraint, tt.version, got, tt.want)
			}
		})
	}
}

func TestConstraintString(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"^1.2.3", ">=1.0.0 <2.0.0", "*"} {
		if got := MustParseConstraint(s).String(); got != s {
			t.Errorf("Constraint(%q).String() = %q, want original", s, got)
		}
	}
}

func TestConstraintIsAny(t *testing.T) {
	t.Parallel()

	if !MustParseConstraint("*").IsAny() {
		t.Error("* should report IsAny")
	}
	if MustParseConstraint("^1.0.0").IsAny() {
		t.Error("^1.0.0 should not report IsAny")
	}
}
