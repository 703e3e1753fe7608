package request

import "testing"

func TestValidRUT(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"12345678-5", true},
		{"12.345.678-5", true},
		{"11111111-1", true},
		{"1000005-K", true},
		{"1000005-k", true},
		{"12345678-9", false},
		{"11111111-2", false},
		{"", false},
		{"5", false},
		{"abc-1", false},
	}
	for _, tc := range cases {
		if got := ValidRUT(tc.in); got != tc.want {
			t.Errorf("ValidRUT(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeAndFormatRUT(t *testing.T) {
	if got := NormalizeRUT(" 12.345.678-k "); got != "12345678K" {
		t.Errorf("NormalizeRUT = %q", got)
	}
	if got := FormatRUT("12.345.678-5"); got != "12345678-5" {
		t.Errorf("FormatRUT = %q", got)
	}
	if got := FormatRUT("5"); got != "5" {
		t.Errorf("FormatRUT short input = %q", got)
	}
}
