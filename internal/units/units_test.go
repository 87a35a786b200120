package units

import (
	"math"
	"testing"
)

func TestConvertLength(t *testing.T) {
	tests := []struct {
		name     string
		length   Length
		units    string
		expected float64
	}{
		{"1 km to m", Kilometer, M, 1000},
		{"1852 m to nm", 1852 * Meter, NM, 1.0},
		{"500 m to km", 500 * Meter, KM, 0.5},
		{"unknown units default to m", 2 * Kilometer, "furlong", 2000},
		{"zero", 0, NM, 0},
		{"20 km to nm", 20 * Kilometer, NM, 10.799},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertLength(tt.length, tt.units)
			if math.Abs(result-tt.expected) > 0.001 {
				t.Errorf("ConvertLength(%v, %s) = %f, want %f", tt.length, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid m", M, true},
		{"valid km", KM, true},
		{"valid nm", NM, true},
		{"invalid unit", "mi", false},
		{"empty string", "", false},
		{"case sensitive", "KM", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValid(tt.unit)
			if result != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	expected := "m, km, nm"
	result := GetValidUnitsString()
	if result != expected {
		t.Errorf("GetValidUnitsString() = %s, want %s", result, expected)
	}
}

func TestParseLength(t *testing.T) {
	tests := []struct {
		in      string
		want    Length
		wantErr bool
	}{
		{"20km", 20 * Kilometer, false},
		{"0.5km", 500 * Meter, false},
		{"500m", 500 * Meter, false},
		{"1nm", NauticalMile, false},
		{" 1.5 KM ", 1500 * Meter, false},
		{"3", 3 * Kilometer, false},
		{"", 0, true},
		{"km", 0, true},
		{"-1km", 0, true},
		{"ten km", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLength(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseLength(%q) expected error, got %v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLength(%q) unexpected error: %v", tt.in, err)
			}
			if math.Abs(float64(got-tt.want)) > 1e-9 {
				t.Errorf("ParseLength(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLengthString(t *testing.T) {
	if s := (500 * Meter).String(); s != "0.5km" {
		t.Errorf("String() = %q, want 0.5km", s)
	}
	if s := (20 * Kilometer).String(); s != "20km" {
		t.Errorf("String() = %q, want 20km", s)
	}
}
