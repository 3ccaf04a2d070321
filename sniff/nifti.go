// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package sniff

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mdhender/datascan/model"
	"github.com/spf13/afero"
)

const (
	niftiHeaderSize = 348
	niftiDimOffset  = 40  // short dim[8]
	niftiMagicOff   = 344 // "n+1\0" or "ni1\0"
)

// sniffNIfTI reads the fixed 348-byte NIfTI-1 header and extracts the
// dimension table. Only the header is read, even for multi-gigabyte volumes.
func sniffNIfTI(fsys afero.Fs, path string, gzipped bool, size int64) (Info, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return Info{}, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	hdr := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Info{}, fmt.Errorf("header: %w", err)
	}

	magic := string(hdr[niftiMagicOff : niftiMagicOff+4])
	if magic != "n+1\x00" && magic != "ni1\x00" {
		return Info{}, fmt.Errorf("bad magic %q", magic)
	}

	// dim[0] is the axis count; a value outside 1..7 means the header was
	// written on the other endianness.
	order := binary.ByteOrder(binary.LittleEndian)
	ndim := int(int16(order.Uint16(hdr[niftiDimOffset : niftiDimOffset+2])))
	if ndim < 1 || ndim > 7 {
		order = binary.BigEndian
		ndim = int(int16(order.Uint16(hdr[niftiDimOffset : niftiDimOffset+2])))
	}
	if ndim < 1 || ndim > 7 {
		return Info{}, fmt.Errorf("bad dim[0] in header")
	}

	dims := make([]int, 0, ndim)
	for i := 1; i <= ndim; i++ {
		off := niftiDimOffset + 2*i
		dims = append(dims, int(int16(order.Uint16(hdr[off:off+2]))))
	}

	return Info{
		Kind:      model.KindNIfTI,
		Modality:  model.ModalityUnknown,
		NDim:      ndim,
		Dims:      dims,
		SizeBytes: size,
	}, nil
}
