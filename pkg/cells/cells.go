// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cells loads red blood cell microscopy images organized in class subdirectories
// (e.g. `train/control/*.jpg` and `train/scd/*.tif`), and serves them as a train.Dataset.
//
// It also provides an independent extraction of ground-truth labels from file names, see ExtractLabels.
package cells

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Class of a red blood cell image.
type Class int8

const (
	// Control is a healthy red blood cell.
	Control Class = iota

	// SCD is a cell affected by Sickle Cell Disease.
	SCD
)

// NumClasses is the number of Class values.
const NumClasses = 2

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case Control:
		return "Control"
	case SCD:
		return "SCD"
	}
	return "Unknown"
}

const (
	// SCDToken is the substring that identifies an SCD directory or file name.
	SCDToken = "scd"

	// ControlToken is the substring that identifies a control directory or file name.
	ControlToken = "control"
)

// ErrUnknownClass is returned when a class directory name matches neither SCDToken nor ControlToken.
var ErrUnknownClass = errors.New("unknown class")

// ClassFromDirName maps a class directory name to its Class. The match is case-insensitive and
// SCDToken is checked before ControlToken.
func ClassFromDirName(name string) (Class, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, SCDToken):
		return SCD, nil
	case strings.Contains(lower, ControlToken):
		return Control, nil
	}
	return 0, errors.Wrapf(ErrUnknownClass, "directory %q should contain %q or %q", name, SCDToken, ControlToken)
}

// Extensions of the image files considered, compared case-insensitively.
var Extensions = []string{".jpg", ".jpeg", ".tif", ".tiff"}

// IsImageFile returns whether the file name has one of the Extensions.
func IsImageFile(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// Sample is one image file and the class inferred from its directory.
type Sample struct {
	// Path to the image file.
	Path string

	// Name is the path relative to the root directory, e.g. "scd/cell_001.jpg".
	Name string

	// Class inferred from the directory name.
	Class Class
}

// ScanDir lists the image files under the class subdirectories of root.
//
// Class subdirectories are visited in lexical order, and the files within each of them are also listed in
// lexical order: this is the stable order in which samples are served when not shuffling.
// Files that are not images (see Extensions) and files directly under root are ignored.
// An empty class directory contributes no samples.
func ScanDir(root string) ([]Sample, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list class directories in %q", root)
	}
	var samples []Sample
	var numClassDirs int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		numClassDirs++
		class, err := ClassFromDirName(entry.Name())
		if err != nil {
			return nil, errors.WithMessagef(err, "scanning %q", root)
		}
		classDir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list images in %q", classDir)
		}
		var count int
		for _, file := range files {
			if file.IsDir() || !IsImageFile(file.Name()) {
				continue
			}
			samples = append(samples, Sample{
				Path:  filepath.Join(classDir, file.Name()),
				Name:  entry.Name() + "/" + file.Name(),
				Class: class,
			})
			count++
		}
		klog.V(1).Infof("%s: %d images of class %s", classDir, count, class)
	}
	if numClassDirs == 0 {
		return nil, errors.Errorf("no class directories found in %q", root)
	}
	return samples, nil
}

// Names returns the Sample.Name of each sample, in the same order.
func Names(samples []Sample) []string {
	names := make([]string, len(samples))
	for ii, s := range samples {
		names[ii] = s.Name
	}
	return names
}

// CountByClass returns the number of samples of each class.
func CountByClass(samples []Sample) (counts [NumClasses]int) {
	for _, s := range samples {
		counts[s.Class]++
	}
	return
}
