package imgrec

import (
	"encoding/binary"
	"io"

	"github.com/astrogo/fitsio"
	"github.com/snksoft/crc"
)

var crcTable = crc.NewTable(crc.CRC32)

// Checksum returns the CRC-32 of the pixels, serialized big endian as they
// are stored in a FITS file before the BZERO shift
func Checksum(pix []uint16) uint32 {
	var b [2]byte
	c := crcTable.InitCrc()
	for _, v := range pix {
		binary.BigEndian.PutUint16(b[:], v)
		c = crcTable.UpdateCrc(c, b[:])
	}
	return crcTable.CRC32(c)
}

// WriteFits streams a fits file to w.  buffer holds nframes frames of
// width*height unsigned samples, stored with BZERO=32768.
func WriteFits(w io.Writer, metadata []fitsio.Card, buffer []uint16, width, height, nframes int) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if nframes > 1 {
		dims = append(dims, nframes)
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	metadata = append(metadata,
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0})
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	// fits has no unsigned 16 bit type, shift into int16 and let BZERO undo it
	bufOut := make([]int16, len(buffer))
	for idx := 0; idx < len(buffer); idx++ {
		bufOut[idx] = int16(buffer[idx] - 32768)
	}
	err = im.Write(bufOut)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
