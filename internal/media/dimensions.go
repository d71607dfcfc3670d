package media

import (
	"bytes"
	"encoding/xml"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Dimensions reads the intrinsic size of an image without decoding pixels.
// ok is false when the size cannot be determined.
func Dimensions(data []byte, vector bool) (width, height int, ok bool) {
	if vector {
		return svgDimensions(data)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

type svgRoot struct {
	Width   string `xml:"width,attr"`
	Height  string `xml:"height,attr"`
	ViewBox string `xml:"viewBox,attr"`
}

// svgDimensions prefers explicit width and height attributes and falls
// back to the viewBox.
func svgDimensions(data []byte) (int, int, bool) {
	var root svgRoot
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0, false
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "svg" {
			return 0, 0, false
		}
		if err := dec.DecodeElement(&root, &start); err != nil {
			return 0, 0, false
		}
		break
	}

	w, wok := svgLength(root.Width)
	h, hok := svgLength(root.Height)
	if wok && hok {
		return w, h, true
	}

	fields := strings.FieldsFunc(root.ViewBox, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) != 4 {
		return 0, 0, false
	}
	vw, err1 := strconv.ParseFloat(fields[2], 64)
	vh, err2 := strconv.ParseFloat(fields[3], 64)
	if err1 != nil || err2 != nil || vw <= 0 || vh <= 0 {
		return 0, 0, false
	}
	return int(math.Round(vw)), int(math.Round(vh)), true
}

// svgLength parses a length in user units or pixels. Relative units
// are rejected.
func svgLength(s string) (int, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	if s == "" || strings.HasSuffix(s, "%") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return int(math.Round(v)), true
}
