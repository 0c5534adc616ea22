// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gocarina/gocsv"
	"github.com/gomlx/sicklecell/pkg/cells"
	"github.com/pkg/errors"
)

// PredictionsFile is the file name of the predictions table, in the report directory.
const PredictionsFile = "predictions.csv"

// PredictionColumn is the name of the column with the thresholded prediction in the CSV file.
const PredictionColumn = "prediction"

// WriteCSV writes the records to filePath, with the header `index,ground_truth,probability,prediction`.
func WriteCSV(filePath string, records []Record) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating predictions file %q", filePath)
	}
	if err = gocsv.MarshalFile(&records, f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing predictions to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing predictions file %q", filePath)
}

// ReadCSV reads the predictions written by WriteCSV as a dataframe.
func ReadCSV(filePath string) (dataframe.DataFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "opening predictions file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f)
	if df.Err != nil {
		return df, errors.Wrapf(df.Err, "parsing predictions file %q", filePath)
	}
	return df, nil
}

// CountPredictions returns how many rows of the predictions dataframe are predicted as each class.
func CountPredictions(df dataframe.DataFrame) (counts [cells.NumClasses]int, err error) {
	for class := range cells.NumClasses {
		filtered := df.Filter(dataframe.F{
			Colname:    PredictionColumn,
			Comparator: series.Eq,
			Comparando: class,
		})
		if filtered.Err != nil {
			return counts, errors.Wrapf(filtered.Err, "counting predictions of class %s", cells.Class(class))
		}
		counts[class] = filtered.Nrow()
	}
	return counts, nil
}
