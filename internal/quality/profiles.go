// Package quality defines the named encoding/compression presets the
// connection engine offers an RFB server during framebuffer initialization.
package quality

// Profile describes the encoding preference list and compression/JPEG
// parameters for one named quality preset.
type Profile struct {
	Name          string
	Encodings     []string
	CompressLevel int
	JPEGQuality   int
	JPEGEnabled   bool

	// UseRemoteCursor stays false for every preset: the original marks
	// RemoteControl's remote-cursor line commented out, and this port
	// keeps that invariant rather than re-enabling it.
	UseRemoteCursor bool
}

// Preset identifies one of the four fixed quality profiles.
type Preset int

const (
	Default Preset = iota
	Screenshot
	RemoteControl
	Thumbnail
)

var profiles = map[Preset]Profile{
	Screenshot: {
		Name:          "screenshot",
		Encodings:     []string{"raw"},
		CompressLevel: 0,
		JPEGQuality:   9,
		JPEGEnabled:   false,
	},
	RemoteControl: {
		Name:          "remote-control",
		Encodings:     []string{"copyrect", "hextile", "raw"},
		CompressLevel: 0,
		JPEGQuality:   9,
		JPEGEnabled:   false,
	},
	Thumbnail: {
		Name:          "thumbnail",
		Encodings:     []string{"zrle", "ultra", "copyrect", "hextile", "zlib", "corre", "rre", "raw"},
		CompressLevel: 9,
		JPEGQuality:   5,
		JPEGEnabled:   true,
	},
	Default: {
		Name:          "default",
		Encodings:     []string{"zrle", "ultra", "copyrect", "hextile", "zlib", "corre", "rre", "raw"},
		CompressLevel: 0,
		JPEGQuality:   9,
		JPEGEnabled:   false,
	},
}

// Lookup returns the Profile for a given preset, falling back to Default
// for any unrecognized value.
func Lookup(p Preset) Profile {
	if profile, ok := profiles[p]; ok {
		return profile
	}
	return profiles[Default]
}

// EncodingsString joins the preferred encodings the way the underlying RFB
// client library expects its space-separated appData.encodingsString.
func (p Profile) EncodingsString() string {
	out := ""
	for i, enc := range p.Encodings {
		if i > 0 {
			out += " "
		}
		out += enc
	}
	return out
}

// PixelFormat is the fixed 32-bit RGB pixel layout every profile uses.
type PixelFormat struct {
	BitsPerPixel int
	Depth        int
	BigEndian    bool
	TrueColour   bool
	RedMax       int
	GreenMax     int
	BlueMax      int
	RedShift     int
	GreenShift   int
	BlueShift    int
}

// Standard is the pixel format fixed by the spec: 32bpp, red shift 16,
// green shift 8, blue shift 0, each channel maxed at 255.
var Standard = PixelFormat{
	BitsPerPixel: 32,
	Depth:        24,
	BigEndian:    false,
	TrueColour:   true,
	RedMax:       255,
	GreenMax:     255,
	BlueMax:      255,
	RedShift:     16,
	GreenShift:   8,
	BlueShift:    0,
}
