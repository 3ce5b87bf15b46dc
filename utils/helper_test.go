package utils

import "testing"

func TestParsePriceString_AcceptsPortalFormats(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"5500", "5500"},
		{"¥5,500", "5500"},
		{"5500円", "5500"},
		{"￥１２，０００", "12000"},
		{"１２３４５円", "12345"},
		{"  1,234  ", "1234"},
		{"550.5", "550.5"},
	}
	for _, tc := range cases {
		d, err := ParsePriceString(tc.in)
		if err != nil {
			t.Fatalf("ParsePriceString(%q) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("ParsePriceString(%q) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
}

func TestParsePriceString_RejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "¥", "unknown"} {
		if _, err := ParsePriceString(in); err == nil {
			t.Fatalf("ParsePriceString(%q) expected error, got none", in)
		}
	}
}

func TestParseDecimal_RejectsEmpty(t *testing.T) {
	if _, err := ParseDecimal("   "); err == nil {
		t.Fatalf("ParseDecimal of blank string expected error, got none")
	}
}

func TestNormalizePhoneNumber_FormatsToE164(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"090-1234-5678", "+819012345678"},
		{"09012345678", "+819012345678"},
		{"03-1234-5678", "+81312345678"},
		{"+819012345678", "+819012345678"},
	}
	for _, tc := range cases {
		got, err := NormalizePhoneNumber(tc.in, "JP")
		if err != nil {
			t.Fatalf("NormalizePhoneNumber(%q) error: %v", tc.in, err)
		}
		if got != tc.expected {
			t.Fatalf("NormalizePhoneNumber(%q) expected %s, got %s", tc.in, tc.expected, got)
		}
	}
}

func TestNormalizePhoneNumber_RejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "123", "abc"} {
		if _, err := NormalizePhoneNumber(in, "JP"); err == nil {
			t.Fatalf("NormalizePhoneNumber(%q) expected error, got none", in)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	cases := []struct {
		in       string
		expected bool
	}{
		{"tanaka@example.com", true},
		{"tanaka.yuki+salon@example.co.jp", true},
		{"tanaka@example", false},
		{"@example.com", false},
		{"tanaka@exam ple.com", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidEmail(tc.in); got != tc.expected {
			t.Fatalf("IsValidEmail(%q) expected %v, got %v", tc.in, tc.expected, got)
		}
	}
}
