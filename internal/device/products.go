package device

// VendorLIFX is the vendor id reported by LIFX devices in StateVersion.
const VendorLIFX = 1

// Product describes a device model's capabilities.
type Product struct {
	ID        uint32 `json:"product_id"`
	Name      string `json:"name"`
	Color     bool   `json:"has_color"`
	Infrared  bool   `json:"has_ir"`
	Multizone bool   `json:"has_multizone"`
	Matrix    bool   `json:"has_matrix"`
	MinKelvin uint16 `json:"min_kelvin"`
	MaxKelvin uint16 `json:"max_kelvin"`
}

// VariableKelvin reports whether the white point can be changed.
func (p Product) VariableKelvin() bool {
	return p.MinKelvin != p.MaxKelvin
}

func colorProduct(id uint32, name string, minK, maxK uint16) Product {
	return Product{ID: id, Name: name, Color: true, MinKelvin: minK, MaxKelvin: maxK}
}

func whiteProduct(id uint32, name string, minK, maxK uint16) Product {
	return Product{ID: id, Name: name, MinKelvin: minK, MaxKelvin: maxK}
}

func withIR(p Product) Product        { p.Infrared = true; return p }
func withMultizone(p Product) Product { p.Multizone = true; return p }
func withMatrix(p Product) Product    { p.Matrix = true; return p }

// products covers the LIFX models commonly seen on home networks.
var products = map[uint32]Product{
	1:   colorProduct(1, "LIFX Original 1000", 2500, 9000),
	3:   colorProduct(3, "LIFX Color 650", 2500, 9000),
	10:  whiteProduct(10, "LIFX White 800 (Low Voltage)", 2700, 6500),
	11:  whiteProduct(11, "LIFX White 800 (High Voltage)", 2700, 6500),
	15:  colorProduct(15, "LIFX Color 1000", 2500, 9000),
	18:  whiteProduct(18, "LIFX White 900 BR30 (Low Voltage)", 2500, 9000),
	20:  colorProduct(20, "LIFX Color 1000 BR30", 2500, 9000),
	22:  colorProduct(22, "LIFX Color 1000", 2500, 9000),
	27:  colorProduct(27, "LIFX A19", 2500, 9000),
	28:  colorProduct(28, "LIFX BR30", 2500, 9000),
	29:  withIR(colorProduct(29, "LIFX A19 Night Vision", 2500, 9000)),
	30:  withIR(colorProduct(30, "LIFX BR30 Night Vision", 2500, 9000)),
	31:  withMultizone(colorProduct(31, "LIFX Z", 2500, 9000)),
	32:  withMultizone(colorProduct(32, "LIFX Z", 2500, 9000)),
	36:  colorProduct(36, "LIFX Downlight", 2500, 9000),
	37:  colorProduct(37, "LIFX Downlight", 2500, 9000),
	38:  withMultizone(colorProduct(38, "LIFX Beam", 2500, 9000)),
	43:  colorProduct(43, "LIFX A19", 2500, 9000),
	44:  colorProduct(44, "LIFX BR30", 2500, 9000),
	45:  withIR(colorProduct(45, "LIFX A19 Night Vision", 2500, 9000)),
	46:  withIR(colorProduct(46, "LIFX BR30 Night Vision", 2500, 9000)),
	49:  colorProduct(49, "LIFX Mini Color", 2500, 9000),
	50:  whiteProduct(50, "LIFX Mini White to Warm", 1500, 4000),
	51:  whiteProduct(51, "LIFX Mini White", 2700, 2700),
	52:  colorProduct(52, "LIFX GU10", 2500, 9000),
	55:  withMatrix(colorProduct(55, "LIFX Tile", 2500, 9000)),
	57:  withMatrix(colorProduct(57, "LIFX Candle", 1500, 9000)),
	59:  colorProduct(59, "LIFX Mini Color", 2500, 9000),
	60:  whiteProduct(60, "LIFX Mini White to Warm", 1500, 4000),
	61:  whiteProduct(61, "LIFX Mini White", 2700, 2700),
	62:  colorProduct(62, "LIFX A19", 2500, 9000),
	63:  colorProduct(63, "LIFX BR30", 2500, 9000),
	64:  withIR(colorProduct(64, "LIFX A19 Night Vision", 2500, 9000)),
	65:  withIR(colorProduct(65, "LIFX BR30 Night Vision", 2500, 9000)),
	66:  whiteProduct(66, "LIFX Mini White", 2700, 2700),
	68:  withMatrix(colorProduct(68, "LIFX Candle", 1500, 9000)),
	81:  whiteProduct(81, "LIFX Candle White to Warm", 2200, 6500),
	82:  whiteProduct(82, "LIFX Filament Clear", 2100, 2100),
	85:  whiteProduct(85, "LIFX Filament Amber", 2000, 2000),
	87:  whiteProduct(87, "LIFX Mini White", 2700, 2700),
	88:  whiteProduct(88, "LIFX Mini White", 2700, 2700),
	90:  colorProduct(90, "LIFX Clean", 1500, 9000),
	91:  colorProduct(91, "LIFX Color", 1500, 9000),
	92:  colorProduct(92, "LIFX Color", 1500, 9000),
	93:  colorProduct(93, "LIFX A19 US", 1500, 9000),
	94:  colorProduct(94, "LIFX BR30", 1500, 9000),
	96:  whiteProduct(96, "LIFX Candle White to Warm", 2200, 6500),
	97:  colorProduct(97, "LIFX A19", 1500, 9000),
	98:  colorProduct(98, "LIFX BR30", 1500, 9000),
	99:  colorProduct(99, "LIFX Clean", 1500, 9000),
	100: whiteProduct(100, "LIFX Filament Clear", 2100, 2100),
	101: whiteProduct(101, "LIFX Filament Amber", 2000, 2000),
	109: withIR(colorProduct(109, "LIFX A19 Night Vision", 1500, 9000)),
	110: withIR(colorProduct(110, "LIFX BR30 Night Vision", 1500, 9000)),
	111: withIR(colorProduct(111, "LIFX A19 Night Vision", 1500, 9000)),
}

// LookupProduct returns the capabilities for a vendor/product pair. Unknown
// LIFX products are assumed to be full-colour bulbs so commands are not
// refused for newer hardware.
func LookupProduct(vendor, product uint32) (Product, bool) {
	if vendor != VendorLIFX {
		return Product{ID: product, Name: "Unknown"}, false
	}
	if p, ok := products[product]; ok {
		return p, true
	}
	return colorProduct(product, "LIFX Unknown", 2500, 9000), false
}
