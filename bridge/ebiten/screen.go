// Package ebiten draws bridged frames with Ebiten.
package ebiten

import (
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/user-none/emubridge/texture"
)

// Screen renders the latest subprocess frame scaled to the window.
type Screen struct {
	offscreen *ebiten.Image           // native resolution copy of the frame
	drawOpts  ebiten.DrawImageOptions // reused every frame
	rgba      []byte
	frame     uint32
	uploaded  bool
}

// Layout implements ebiten.Game.
func (s *Screen) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

// Draw uploads img when it holds a new frame and draws it centered with
// its aspect ratio preserved.
func (s *Screen) Draw(screen *ebiten.Image, img *texture.Image) {
	if img == nil || !img.Valid() {
		return
	}

	if s.offscreen == nil || s.offscreen.Bounds().Dx() != img.Width || s.offscreen.Bounds().Dy() != img.Height {
		if s.offscreen != nil {
			s.offscreen.Deallocate()
		}
		s.offscreen = ebiten.NewImage(img.Width, img.Height)
		s.uploaded = false
	}
	if !s.uploaded || img.Frame != s.frame {
		s.rgba = img.RGBA(s.rgba)
		s.offscreen.WritePixels(s.rgba)
		s.frame = img.Frame
		s.uploaded = true
	}

	screenW, screenH := screen.Bounds().Dx(), screen.Bounds().Dy()
	scale, offX, offY := fit(img.Width, img.Height, screenW, screenH)

	s.drawOpts = ebiten.DrawImageOptions{}
	s.drawOpts.GeoM.Scale(scale, scale)
	s.drawOpts.GeoM.Translate(offX, offY)
	s.drawOpts.Filter = ebiten.FilterNearest
	screen.DrawImage(s.offscreen, &s.drawOpts)
}

// fit returns the uniform scale and offsets that center a w x h image in a
// screenW x screenH target.
func fit(w, h, screenW, screenH int) (scale, offX, offY float64) {
	nativeW, nativeH := float64(w), float64(h)
	scale = float64(screenW) / nativeW
	if sy := float64(screenH) / nativeH; sy < scale {
		scale = sy
	}
	offX = (float64(screenW) - nativeW*scale) / 2
	offY = (float64(screenH) - nativeH*scale) / 2
	return scale, offX, offY
}
