// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cells

import (
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LabelEntry is one row of a LabelTable.
type LabelEntry struct {
	// Index is the position of the file in the list given to ExtractLabels, that is, in the validation
	// supply order. Predictions are joined by this index.
	Index int

	// Filename as given to ExtractLabels.
	Filename string

	// Class derived from the file name.
	Class Class
}

// LabelTable is the ordered ground truth extracted from file names.
type LabelTable struct {
	Entries []LabelEntry

	// Dropped holds the file names that matched neither token, in order.
	Dropped []string
}

// Len returns the number of entries in the table.
func (t *LabelTable) Len() int { return len(t.Entries) }

// Classes returns the class of each entry, in order.
func (t *LabelTable) Classes() []Class {
	classes := make([]Class, len(t.Entries))
	for ii, e := range t.Entries {
		classes[ii] = e.Class
	}
	return classes
}

// ErrUnmatchedFilename is returned by ExtractLabels in strict mode.
var ErrUnmatchedFilename = errors.New("file name matches no class")

// LabelFromFilename returns the class for the file name, checking the literal SCDToken first and then
// ControlToken. The match is case-sensitive. ok is false if neither token is present.
func LabelFromFilename(filename string) (class Class, ok bool) {
	switch {
	case strings.Contains(filename, SCDToken):
		return SCD, true
	case strings.Contains(filename, ControlToken):
		return Control, true
	}
	return 0, false
}

// ExtractLabels builds the LabelTable from the ordered list of file names of the validation supply.
//
// It is independent of the class inferred by the Dataset from the directories, so the two can be compared.
// File names with neither token are dropped (and logged), or, if strict is set, an ErrUnmatchedFilename is
// returned. The order of the file names is preserved.
func ExtractLabels(filenames []string, strict bool) (*LabelTable, error) {
	table := &LabelTable{Entries: make([]LabelEntry, 0, len(filenames))}
	for ii, name := range filenames {
		class, ok := LabelFromFilename(name)
		if !ok {
			if strict {
				return nil, errors.Wrapf(ErrUnmatchedFilename, "file #%d %q has neither %q nor %q",
					ii, name, SCDToken, ControlToken)
			}
			klog.Warningf("no label for file #%d %q: it has neither %q nor %q, dropping it",
				ii, name, SCDToken, ControlToken)
			table.Dropped = append(table.Dropped, name)
			continue
		}
		table.Entries = append(table.Entries, LabelEntry{Index: ii, Filename: name, Class: class})
	}
	if len(table.Dropped) > 0 {
		klog.Warningf("%d of %d file names dropped from the label table", len(table.Dropped), len(filenames))
	}
	return table, nil
}

// Disagreements returns the entries whose class differs from the class of the sample at the same index,
// that is, where the label extracted from the file name and the one inferred from the directory differ.
func (t *LabelTable) Disagreements(samples []Sample) []LabelEntry {
	var diff []LabelEntry
	for _, e := range t.Entries {
		if e.Index < len(samples) && samples[e.Index].Class != e.Class {
			diff = append(diff, e)
		}
	}
	return diff
}
