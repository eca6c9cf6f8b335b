// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package manifest parses the line-oriented list of image groups and labels used by the
// multi-image data pipeline.
//
// Each non-empty line holds `groupSize` whitespace separated paths followed by an integer label:
//
//	left/0001.png right/0001.png 3
//	left/0002.png right/0002.png 7
//
// Paths are prefixed with the configured root folder by plain string concatenation, so a root
// folder of "/data/" and a path of "left/0001.png" yields "/data/left/0001.png", while a root folder
// of "/data" yields "/dataleft/0001.png".
package manifest

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrNotFound is returned (wrapped) when the manifest file cannot be opened.
	ErrNotFound = errors.New("manifest not found")

	// ErrFormat is returned (wrapped) when a manifest line is malformed.
	ErrFormat = errors.New("malformed manifest")
)

// Record is one sample of the manifest: a group of image paths and its label.
// Records are immutable once read.
type Record struct {
	// Paths of the images of the group, already prefixed with the root folder.
	Paths []string

	// Label of the sample.
	Label int
}

// Read opens the manifest file at filePath and parses it with Parse.
func Read(filePath, rootFolder string, groupSize int) ([]Record, error) {
	klog.Infof("Opening file %s", filePath)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(ErrNotFound, "failed to open manifest %q: %v", filePath, err)
	}
	defer func() {
		_ = f.Close() // Discard error on Close, the file was only read.
	}()
	records, err := Parse(f, filePath, rootFolder, groupSize)
	if err != nil {
		return nil, err
	}
	klog.Infof("A total of %d image groups (%d images each) in %s", len(records), groupSize, filePath)
	return records, nil
}

// Parse reads the manifest from r. The name is only used for error messages.
//
// Each line must have groupSize paths followed by at least one base-10 integer. If more than one
// integer follows the paths, all of them must parse and the last one is the label.
// Otherwise it fails with ErrFormat. On error no records are returned.
func Parse(r io.Reader, name, rootFolder string, groupSize int) ([]Record, error) {
	if groupSize <= 0 {
		return nil, errors.Wrapf(ErrFormat, "invalid image group size %d for manifest %q, it must be > 0",
			groupSize, name)
	}
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		record, err := parseFields(fields, rootFolder, groupSize)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s:%d", name, lineNum)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading manifest %q", name)
	}
	return records, nil
}

func parseFields(fields []string, rootFolder string, groupSize int) (record Record, err error) {
	if len(fields) < groupSize+1 {
		err = errors.Wrapf(ErrFormat, "expected %d image paths and a label, got %d tokens", groupSize, len(fields))
		return
	}
	for _, token := range fields[groupSize:] {
		record.Label, err = strconv.Atoi(token)
		if err != nil {
			err = errors.Wrapf(ErrFormat, "token %q after the %d image paths is not an integer", token, groupSize)
			return
		}
	}
	record.Paths = make([]string, groupSize)
	for ii, fragment := range fields[:groupSize] {
		record.Paths[ii] = rootFolder + fragment
	}
	return
}
