package output

import "testing"

func TestRoundFloat(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"confidence with long tail", 0.7*0.857142857 + 0.3, 0.9},
		{"already six places", 0.123456, 0.123456},
		{"rounds up", 0.1234567, 0.123457},
		{"below half", 0.1234564, 0.123456},
		{"negative", -0.123456789, -0.123457},
		{"vanishing rank", 0.0000004, 0},
		{"large", 1234567.123456789, 1234567.123457},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundFloat(tt.in); got != tt.want {
				t.Errorf("RoundFloat(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1"},
		{0, "0"},
		{0.5, "0.5"},
		{0.15, "0.15"},
		{2.0 / 3.0, "0.666667"},
		{0.1000001, "0.1"},
		{-1.25, "-1.25"},
		{100, "100"},
	}
	for _, tt := range tests {
		if got := FormatFloat(tt.in); got != tt.want {
			t.Errorf("FormatFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
