// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package datascan profiles collections of medical imaging files.
//
// A dataset is a directory tree of downloaded files. The pipeline walks the
// tree, classifies each file (DICOM, NIfTI, raster image, unknown), assigns a
// modality by fusing several weak detectors, embeds image files into feature
// vectors, clusters the vectors to flag distributional outliers, and writes a
// per-dataset summary. Per-file records and summaries are persisted through
// the SQLite store in stores/sqlite.
package datascan
