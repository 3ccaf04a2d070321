// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package sniff classifies files by container format.
//
// Detection is header-first: magic bytes beat extensions, and recognized
// volumetric formats are parsed at the header level only, never through a
// full pixel decode. A malformed header downgrades the file to unknown with
// a recorded reason; classification never fails a dataset.
package sniff

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	// Registered for image.DecodeConfig; pixels are never decoded here.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/mdhender/datascan/model"
	"github.com/spf13/afero"
)

// Info is the classification result for one file.
type Info struct {
	Kind      model.FileKind
	Modality  string // verbatim tag value for tagged formats, else "unknown"
	NDim      int    // 0 = unknown
	Dims      []int  // per-axis extents, nil = unknown
	SizeBytes int64
	Meta      map[string]string
	Reason    string // why the file was downgraded, when it was
}

// headLen covers the DICOM preamble, the NIfTI header, and every raster
// image config we sniff.
const headLen = 4096

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".bmp": true, ".gif": true, ".tif": true, ".tiff": true,
}

// Sniff classifies the file at path. It is a pure function of the file bytes
// and name; errors are folded into the returned Info, never propagated.
func Sniff(fsys afero.Fs, path string) Info {
	size := statSize(fsys, path)
	ext := Ext(path)

	head, err := readHead(fsys, path)
	if err != nil {
		return Info{
			Kind:      model.KindUnknown,
			Modality:  model.ModalityUnknown,
			SizeBytes: size,
			Reason:    fmt.Sprintf("read: %v", err),
		}
	}

	// DICOM: "DICM" after the 128-byte preamble.
	if looksLikeDICOM(head) || ext == ".dcm" {
		info, err := sniffDICOM(fsys, path, size)
		if err == nil {
			return info
		}
		return Info{
			Kind:      model.KindUnknown,
			Modality:  model.ModalityUnknown,
			SizeBytes: size,
			Reason:    fmt.Sprintf("dicom header: %v", err),
		}
	}

	// NIfTI: single-file .nii or gzipped .nii.gz.
	if ext == ".nii" || ext == ".nii.gz" {
		info, err := sniffNIfTI(fsys, path, ext == ".nii.gz", size)
		if err == nil {
			return info
		}
		// Known extension, unreadable header: keep the kind, drop the dims.
		return Info{
			Kind:      model.KindNIfTI,
			Modality:  model.ModalityUnknown,
			SizeBytes: size,
			Reason:    fmt.Sprintf("nifti header: %v", err),
		}
	}

	// 2D raster images.
	if sig := imageSignature(head); sig != "" || imageExts[ext] {
		cfg, format, err := decodeImageConfig(fsys, path)
		if err == nil {
			return Info{
				Kind:      model.KindImage,
				Modality:  model.ModalityUnknown,
				NDim:      2,
				Dims:      []int{cfg.Width, cfg.Height},
				SizeBytes: size,
				Meta:      map[string]string{"Format": format},
			}
		}
		if sig != "" {
			// Signature matched but the header is broken; still an image.
			return Info{
				Kind:      model.KindImage,
				Modality:  model.ModalityUnknown,
				NDim:      2,
				SizeBytes: size,
				Reason:    fmt.Sprintf("image header: %v", err),
			}
		}
		return Info{
			Kind:      model.KindUnknown,
			Modality:  model.ModalityUnknown,
			SizeBytes: size,
			Reason:    fmt.Sprintf("image decode: %v", err),
		}
	}

	return Info{
		Kind:      model.KindUnknown,
		Modality:  model.ModalityUnknown,
		SizeBytes: size,
		Reason:    "no known signature or extension",
	}
}

// Ext returns the lowercased extension for path, folding the compound
// ".nii.gz" suffix into a single bucket. Files without an extension map to
// "none".
func Ext(path string) string {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".nii.gz") {
		return ".nii.gz"
	}
	ext := filepath.Ext(name)
	if ext == "" {
		return "none"
	}
	return ext
}

func looksLikeDICOM(head []byte) bool {
	return len(head) >= 132 && bytes.Equal(head[128:132], []byte("DICM"))
}

// imageSignature returns the format name when head carries a known raster
// image signature, else "".
func imageSignature(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")):
		return "png"
	case bytes.HasPrefix(head, []byte{0xff, 0xd8, 0xff}):
		return "jpeg"
	case bytes.HasPrefix(head, []byte("GIF87a")) || bytes.HasPrefix(head, []byte("GIF89a")):
		return "gif"
	case bytes.HasPrefix(head, []byte("BM")):
		return "bmp"
	case bytes.HasPrefix(head, []byte("II*\x00")) || bytes.HasPrefix(head, []byte("MM\x00*")):
		return "tiff"
	}
	return ""
}

func decodeImageConfig(fsys afero.Fs, path string) (image.Config, string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	return image.DecodeConfig(f)
}

func readHead(fsys afero.Fs, path string) ([]byte, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// ReadFull, because a single Read may legally return a partial head and
	// hide the DICM marker at offset 128.
	buf := make([]byte, headLen)
	n, err := io.ReadFull(f, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func statSize(fsys afero.Fs, path string) int64 {
	fi, err := fsys.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
