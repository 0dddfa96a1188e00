package render

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

var (
	Background = mustHex("#111111")
	White      = color.White
)

// ParseColor reads the color forms stored on player rows: "hsl(h, s%, l%)"
// and "#rgb"/"#rrggbb". Anything else is white.
func ParseColor(s string) color.Color {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasPrefix(s, "hsl(") {
		var h, sat, l float64
		if _, err := fmt.Sscanf(s, "hsl(%f, %f%%, %f%%)", &h, &sat, &l); err != nil {
			return White
		}
		return colorful.Hsl(h, sat/100, l/100).Clamped()
	}
	if c, err := colorful.Hex(s); err == nil {
		return c
	}
	return White
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}
