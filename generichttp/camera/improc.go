// this file contains a few small image processing utilities
package camera

import (
	"encoding/binary"
	"image"

	"github.com/disintegration/gift"
	"github.com/nasa-jpl/framestream/stream"
)

// to8 converts 16 bit samples to 8 bits.  With stretch the range
// [min, max] of the data is mapped to [0, 255], otherwise the top byte is
// kept.
func to8(pix []uint16, stretch bool) []byte {
	out := make([]byte, len(pix))
	if !stretch {
		for idx := 0; idx < len(pix); idx++ {
			out[idx] = byte(pix[idx] / 256) // scale 16 to 8 bits
		}
		return out
	}
	lo, hi := minMax(pix)
	span := int(hi) - int(lo)
	if span == 0 {
		return out
	}
	for idx, v := range pix {
		out[idx] = byte((int(v) - int(lo)) * 255 / span)
	}
	return out
}

func minMax(pix []uint16) (lo, hi uint16) {
	if len(pix) == 0 {
		return 0, 0
	}
	lo, hi = pix[0], pix[0]
	for _, v := range pix[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// gray8 wraps 8 bit samples as an image
func gray8(buf []byte, width, height int) *image.Gray {
	return &image.Gray{Pix: buf, Stride: width, Rect: image.Rect(0, 0, width, height)}
}

// fromGray16 copies a 16 bit image back into a frame
func fromGray16(im *image.Gray16, index uint64) stream.Frame {
	b := im.Bounds()
	f := stream.Frame{Index: index, Width: b.Dx(), Height: b.Dy(), Pix: make([]uint16, b.Dx()*b.Dy())}
	for y := 0; y < f.Height; y++ {
		row := im.Pix[y*im.Stride:]
		for x := 0; x < f.Width; x++ {
			f.Pix[y*f.Width+x] = binary.BigEndian.Uint16(row[2*x:])
		}
	}
	return f
}

// shrink scales f down to width pixels wide, keeping the aspect ratio.
// Frames that are already narrow enough are returned as they are.
func shrink(f stream.Frame, width int) stream.Frame {
	if width <= 0 || width >= f.Width {
		return f
	}
	g := gift.New(gift.Resize(width, 0, gift.BoxResampling))
	src := f.Gray16()
	dst := image.NewGray16(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return fromGray16(dst, f.Index)
}
