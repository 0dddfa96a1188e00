// Package render paints the playfield: a dark canvas, one square per player
// and the player's name above it.
package render

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/DoyleJ11/arena-sync/internal/engine"
	"github.com/DoyleJ11/arena-sync/internal/metrics"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

const (
	labelSize   = 12
	labelOffset = 5
)

type Renderer struct {
	width   int
	height  int
	face    font.Face
	metrics *metrics.Metrics
}

func New(m *metrics.Metrics) (*Renderer, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		width:   engine.FieldWidth,
		height:  engine.FieldHeight,
		face:    truetype.NewFace(f, &truetype.Options{Size: labelSize}),
		metrics: m,
	}, nil
}

// Draw repaints the whole frame from players.
func (r *Renderer) Draw(players []types.Player) image.Image {
	dc := gg.NewContext(r.width, r.height)
	dc.SetColor(Background)
	dc.Clear()
	dc.SetFontFace(r.face)

	for _, p := range players {
		dc.SetColor(ParseColor(p.Color))
		dc.DrawRectangle(float64(p.X), float64(p.Y), engine.SpriteSize, engine.SpriteSize)
		dc.Fill()

		dc.SetColor(White)
		dc.DrawStringAnchored(p.Name, float64(p.X)+engine.SpriteSize/2, float64(p.Y-labelOffset), 0.5, 0)
	}
	r.metrics.Frame()
	return dc.Image()
}

// Run draws a frame from source every interval and hands it to sink, until
// ctx is cancelled.
func (r *Renderer) Run(ctx context.Context, interval time.Duration, source func() []types.Player, sink func(image.Image)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			sink(r.Draw(source()))
		}
	}
}

func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// Scale resizes img by factor, keeping the aspect ratio. Factors outside
// (0, 1) return img unchanged.
func Scale(img image.Image, factor float64) image.Image {
	if factor <= 0 || factor >= 1 {
		return img
	}
	w := int(float64(img.Bounds().Dx()) * factor)
	if w < 1 {
		w = 1
	}
	return imaging.Resize(img, w, 0, imaging.Lanczos)
}
