/*Package synthetic provides software cameras that stream a moving test
pattern.  They have no hardware dependencies and are used for development
of clients and for testing the streaming path end to end.

Camera synthesizes frames in the filler loop through a stream.Producer.
GrabberCamera instead simulates a frame grabber which writes into the
registered ring buffers on its own clock, exercising the hardware source
path of the stream package.

*/
package synthetic

import (
	"math"

	"github.com/nasa-jpl/framestream/stream"
)

const (
	// TrackerSize is the edge length of the bright square in the pattern
	TrackerSize = 16

	// TrackerValue is the pixel value of the tracker
	TrackerValue = 16

	// Period is the number of frames for the tracker to complete its path
	Period = 4096
)

// Fill draws frame number counter of the test pattern into buf, which holds
// width*height samples in row major order.
//
// The background is (counter mod 8)+1 and a TrackerSize square of
// TrackerValue moves on a Lissajous path centred in the frame, covering 80%
// of each axis.  The square is clipped at the right and bottom edges.
func Fill(buf []uint16, width, height int, counter uint64) {
	bg := uint16(counter%8) + 1
	for i := range buf {
		buf[i] = bg
	}
	x, y := TrackerPosition(width, height, counter)
	for row := y; row < y+TrackerSize && row < height; row++ {
		for col := x; col < x+TrackerSize && col < width; col++ {
			buf[row*width+col] = TrackerValue
		}
	}
}

// TrackerPosition returns the top left corner of the tracker in frame counter
func TrackerPosition(width, height int, counter uint64) (x, y int) {
	phase := float64(counter%Period) / Period
	fy := 0.5 + 0.8*0.5*math.Sin(3*2*math.Pi*phase)
	fx := 0.5 + 0.8*0.5*math.Cos(7*2*math.Pi*phase)
	return int(fx * float64(width)), int(fy * float64(height))
}

// Pattern is a stream.Producer of the test pattern at a fixed size
type Pattern struct {
	Width, Height int
}

// ProduceFrame satisfies stream.Producer
func (p Pattern) ProduceFrame(buf []uint16, index uint64) error {
	Fill(buf, p.Width, p.Height, index)
	return nil
}

var _ stream.Producer = Pattern{}
