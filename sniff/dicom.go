// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package sniff

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/mdhender/datascan/model"
	"github.com/spf13/afero"
)

// Tags we pull from the DICOM header. Everything lives at or before group
// 0x0028, so the walk never touches pixel data.
var wantedTags = map[uint32]string{
	0x00080016: "SOPClassUID",
	0x00080060: "Modality",
	0x00180015: "BodyPartExamined",
	0x0020000d: "StudyInstanceUID",
	0x0020000e: "SeriesInstanceUID",
}

const (
	tagRows    = 0x00280010
	tagColumns = 0x00280011

	// dicomHeaderCap bounds how much of a file the tag walk may consume.
	// Headers of interest fit comfortably; anything bigger is pixel data or
	// a private tag dump we do not care about.
	dicomHeaderCap = 1 << 18
)

// sniffDICOM reads header-level structural metadata from a DICOM file:
// modality tag, row/column extents, and the study/series identifiers. The
// pixel data element is never read.
func sniffDICOM(fsys afero.Fs, path string, size int64) (Info, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	r := io.LimitReader(f, dicomHeaderCap)

	var preamble [132]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return Info{}, fmt.Errorf("preamble: %w", err)
	}
	if string(preamble[128:132]) != "DICM" {
		return Info{}, fmt.Errorf("missing DICM marker")
	}

	meta := make(map[string]string)
	var rows, cols int

	w := &tagWalker{r: r}
	for {
		tag, value, err := w.next()
		if err == io.EOF || err == errStopWalk {
			break
		}
		if err != nil {
			// A truncated tail after we already saw the modality is fine;
			// with nothing collected the header is unusable.
			if len(meta) == 0 {
				return Info{}, err
			}
			break
		}
		switch tag {
		case tagRows:
			if len(value) >= 2 {
				rows = int(binary.LittleEndian.Uint16(value))
			}
		case tagColumns:
			if len(value) >= 2 {
				cols = int(binary.LittleEndian.Uint16(value))
			}
		default:
			if name, ok := wantedTags[tag]; ok {
				meta[name] = strings.TrimRight(string(value), " \x00")
			}
		}
		if tag > tagColumns {
			break
		}
	}

	modality := meta["Modality"]
	if modality == "" {
		modality = model.ModalityUnknown
	}
	delete(meta, "Modality")

	var dims []int
	if rows > 0 && cols > 0 {
		dims = []int{cols, rows}
	}

	// A single DICOM instance is 2D; volumes are detected later at the
	// series level.
	return Info{
		Kind:      model.KindDICOM,
		Modality:  modality,
		NDim:      2,
		Dims:      dims,
		SizeBytes: size,
		Meta:      meta,
	}, nil
}

// errStopWalk ends the tag walk early on elements we cannot (and need not)
// traverse: undefined lengths and sequences.
var errStopWalk = fmt.Errorf("stop tag walk")

// tagWalker iterates DICOM data elements in little-endian byte order,
// handling both explicit and implicit VR encodings. Values larger than a
// small cap are skipped, not read.
type tagWalker struct {
	r        io.Reader
	started  bool
	explicit bool
}

const maxValueRead = 1 << 12

func (w *tagWalker) next() (uint32, []byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(w.r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, io.EOF
		}
		return 0, nil, err
	}

	group := binary.LittleEndian.Uint16(hdr[0:2])
	elem := binary.LittleEndian.Uint16(hdr[2:4])
	tag := uint32(group)<<16 | uint32(elem)

	vr := string(hdr[4:6])
	if !w.started {
		// The file meta group is always explicit VR; the main dataset
		// declares itself by whether the VR bytes are uppercase ASCII.
		w.started = true
		w.explicit = isVR(vr)
	}
	explicit := w.explicit
	if group == 0x0002 {
		explicit = true
	} else if !w.explicit && isVR(vr) {
		// Some writers switch to explicit VR after the meta group.
		w.explicit = true
		explicit = true
	}

	var length uint32
	if explicit {
		switch vr {
		case "OB", "OW", "OF", "SQ", "UT", "UN":
			var ext [4]byte
			if _, err := io.ReadFull(w.r, ext[:]); err != nil {
				return 0, nil, err
			}
			length = binary.LittleEndian.Uint32(ext[:])
			if vr == "SQ" || length == 0xffffffff {
				if length == 0xffffffff {
					return 0, nil, errStopWalk
				}
				if err := w.skip(int64(length)); err != nil {
					return 0, nil, err
				}
				return tag, nil, nil
			}
		default:
			length = uint32(binary.LittleEndian.Uint16(hdr[6:8]))
		}
	} else {
		length = binary.LittleEndian.Uint32(hdr[4:8])
		if length == 0xffffffff {
			return 0, nil, errStopWalk
		}
	}

	if length > maxValueRead {
		if err := w.skip(int64(length)); err != nil {
			return 0, nil, err
		}
		return tag, nil, nil
	}

	value := make([]byte, length)
	if _, err := io.ReadFull(w.r, value); err != nil {
		return 0, nil, err
	}
	return tag, value, nil
}

func (w *tagWalker) skip(n int64) error {
	_, err := io.CopyN(io.Discard, w.r, n)
	if err == io.EOF {
		return errStopWalk
	}
	return err
}

func isVR(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
