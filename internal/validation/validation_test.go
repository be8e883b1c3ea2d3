package validation

import "testing"

func TestIsValidIPv4(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want bool
	}{
		{"valid address", "192.168.1.1", true},
		{"valid boundary", "255.255.255.255", true},
		{"valid zeros", "0.0.0.0", true},
		{"octet above 255", "999.1.1.1", false},
		{"too few octets", "10.0.0", false},
		{"too many octets", "10.0.0.1.2", false},
		{"empty octet", "10..0.1", false},
		{"leading zero", "10.01.0.1", false},
		{"letters", "a.b.c.d", false},
		{"empty string", "", false},
		{"negative sign", "-1.0.0.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidIPv4(tt.ip); got != tt.want {
				t.Errorf("IsValidIPv4(%q) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestNormalizeCouponCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"save10", "SAVE10"},
		{"  Save10 ", "SAVE10"},
		{"SAVE10", "SAVE10"},
		{"wElCoMe-50", "WELCOME-50"},
	}

	for _, tt := range tests {
		if got := NormalizeCouponCode(tt.in); got != tt.want {
			t.Errorf("NormalizeCouponCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidCouponCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"simple", "SAVE10", true},
		{"with dash", "WELCOME-50", true},
		{"with underscore", "BLACK_FRIDAY", true},
		{"too short", "AB", false},
		{"too long", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", false},
		{"spaces inside", "SAVE 10", false},
		{"special chars", "SAVE10%", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidCouponCode(tt.code); got != tt.want {
				t.Errorf("IsValidCouponCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}
