package vin

import "testing"

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		vin  string
		want DecodedInfo
	}{
		{
			name: "US Honda passenger car",
			vin:  "1HGCM82633A004352",
			want: DecodedInfo{Country: "United States", Manufacturer: "Honda", VehicleType: "Passenger Car"},
		},
		{
			name: "German VW",
			vin:  "WVWZZZ3BZWE689725",
			want: DecodedInfo{Country: "Germany", Manufacturer: "Volkswagen", VehicleType: "Passenger Car"},
		},
		{
			name: "unmapped WMI degrades per field",
			vin:  "XX#CM82633A004352",
			want: DecodedInfo{Country: Unknown, Manufacturer: Unknown, VehicleType: Unknown},
		},
		{
			name: "short input is all unknown",
			vin:  "1HG",
			want: DecodedInfo{Country: Unknown, Manufacturer: Unknown, VehicleType: Unknown},
		},
		{
			name: "empty input",
			vin:  "",
			want: DecodedInfo{Country: Unknown, Manufacturer: Unknown, VehicleType: Unknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decode(tt.vin); got != tt.want {
				t.Errorf("Decode(%q) = %+v, want %+v", tt.vin, got, tt.want)
			}
		})
	}
}

// Decode is a pure lookup: repeated calls on the same input must agree.
func TestDecodeIdempotent(t *testing.T) {
	vin := "JHMCM82633C004352"
	first := Decode(vin)
	for i := 0; i < 10; i++ {
		if got := Decode(vin); got != first {
			t.Fatalf("Decode(%q) changed between calls: %+v then %+v", vin, first, got)
		}
	}
}
