package sanitize

import "testing"

func TestPhone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"263771234567", "263*******67"},
		{"+15551234567", "+15*******67"},
		{"1234", "****"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Phone(tt.input); got != tt.expected {
				t.Errorf("Phone(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"phone in body", "call me on 263771234567 please", 0, "call me on 263*******67 please"},
		{"email in body", "mail user@example.com", 0, "mail us***@example.com"},
		{"truncates", "bathroom renovation", 8, "bathroom…"},
		{"short text untouched", "hi", 10, "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("Text(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"+263 77 123 4567", "263771234567"},
		{"263771234567", "263771234567"},
		{"(077) 123-4567", "0771234567"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizePhone(tt.input); got != tt.expected {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestPartialMask(t *testing.T) {
	if got := PartialMask("abcdefgh", 2, 2); got != "ab****gh" {
		t.Errorf("PartialMask() = %q", got)
	}
	if got := PartialMask("abc", 2, 2); got != "***" {
		t.Errorf("PartialMask(short) = %q", got)
	}
}
