package units

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestParseTokens(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "10", want: "10000000000000000000"},
		{in: "1000000", want: "1000000000000000000000000"},
		{in: "0.5", want: "500000000000000000"},
		{in: "0", want: "0"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0.0000000000000000001", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "ten", wantErr: true},
		{in: "1e80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTokens(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTokens(%q) = %s, want error", tt.in, got.Dec())
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTokens(%q): %v", tt.in, err)
			}
			if got.Dec() != tt.want {
				t.Errorf("ParseTokens(%q) = %s, want %s", tt.in, got.Dec(), tt.want)
			}
		})
	}
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		in   *uint256.Int
		want string
	}{
		{in: nil, want: "0"},
		{in: uint256.NewInt(0), want: "0"},
		{in: uint256.NewInt(1), want: "0.000000000000000001"},
		{in: uint256.NewInt(1_500_000_000_000_000_000), want: "1.5"},
	}

	for _, tt := range tests {
		if got := FormatTokens(tt.in); got != tt.want {
			t.Errorf("FormatTokens = %q, want %q", got, tt.want)
		}
	}
}

func TestParseUnitsDecimals(t *testing.T) {
	got, err := ParseUnits("12.34", 2)
	if err != nil {
		t.Fatal(err)
	}
	if got.Uint64() != 1234 {
		t.Errorf("ParseUnits = %d, want 1234", got.Uint64())
	}
	if s := FormatUnits(got, 2); s != "12.34" {
		t.Errorf("FormatUnits = %q", s)
	}
}
