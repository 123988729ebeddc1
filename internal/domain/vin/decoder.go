package vin

// Unknown is the fallback for any WMI code missing from the lookup tables.
const Unknown = "Unknown"

// DecodedInfo holds the coarse attributes derivable from the WMI alone.
type DecodedInfo struct {
	Country      string `json:"country"`
	Manufacturer string `json:"manufacturer"`
	VehicleType  string `json:"vehicle_type"`
}

// countryByFirst maps VIN position 1 to the country of manufacture.
var countryByFirst = map[byte]string{
	'1': "United States",
	'4': "United States",
	'5': "United States",
	'2': "Canada",
	'3': "Mexico",
	'6': "Australia",
	'7': "New Zealand",
	'8': "Argentina",
	'9': "Brazil",
	'J': "Japan",
	'K': "South Korea",
	'L': "China",
	'M': "India",
	'N': "Turkey",
	'S': "United Kingdom",
	'T': "Czech Republic",
	'V': "France",
	'W': "Germany",
	'Y': "Sweden",
	'Z': "Italy",
}

// manufacturerBySecond maps VIN position 2 to the manufacturer group.
var manufacturerBySecond = map[byte]string{
	'A': "Audi",
	'B': "BMW",
	'C': "Chrysler",
	'D': "Mercedes-Benz",
	'F': "Ford",
	'G': "General Motors",
	'H': "Honda",
	'J': "Jeep",
	'L': "Lincoln",
	'M': "Mitsubishi",
	'N': "Nissan",
	'S': "Subaru",
	'T': "Toyota",
	'V': "Volkswagen",
	'Y': "Mazda",
	'Z': "Mazda",
	'1': "Chevrolet",
	'4': "Buick",
	'5': "Pontiac",
	'6': "Cadillac",
	'7': "GM Canada",
	'8': "Saturn",
}

// vehicleTypeByWMI maps full three-character WMI codes to a body type.
var vehicleTypeByWMI = map[string]string{
	"1HG": "Passenger Car",
	"2HG": "Passenger Car",
	"JHM": "Passenger Car",
	"1FT": "Truck",
	"1FA": "Passenger Car",
	"1FM": "Multi-Purpose Vehicle",
	"1GC": "Truck",
	"1G1": "Passenger Car",
	"1GM": "Passenger Car",
	"2T1": "Passenger Car",
	"3VW": "Passenger Car",
	"4T1": "Passenger Car",
	"5TD": "Multi-Purpose Vehicle",
	"5YJ": "Passenger Car",
	"JN1": "Passenger Car",
	"JT2": "Passenger Car",
	"KM8": "Multi-Purpose Vehicle",
	"KNA": "Passenger Car",
	"WAU": "Passenger Car",
	"WBA": "Passenger Car",
	"WDB": "Passenger Car",
	"WP0": "Passenger Car",
	"WVW": "Passenger Car",
	"YV1": "Passenger Car",
	"ZFF": "Passenger Car",
}

// Decode derives country, manufacturer and vehicle type from the WMI.
// It never fails: unmapped codes and short input yield Unknown fields.
func Decode(vin string) DecodedInfo {
	info := DecodedInfo{Country: Unknown, Manufacturer: Unknown, VehicleType: Unknown}
	if len(vin) != Length {
		return info
	}
	if c, ok := countryByFirst[vin[0]]; ok {
		info.Country = c
	}
	if m, ok := manufacturerBySecond[vin[1]]; ok {
		info.Manufacturer = m
	}
	if t, ok := vehicleTypeByWMI[vin[:3]]; ok {
		info.VehicleType = t
	}
	return info
}
