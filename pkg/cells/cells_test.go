package cells

import (
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/sicklecell/pkg/augment"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeImage writes a uniform image with the given gray value, in the format given by the extension.
func writeImage(t *testing.T, filePath string, size int, gray uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
	img := imaging.New(size, size, color.NRGBA{R: gray, G: gray, B: gray, A: 255})
	require.NoError(t, imaging.Save(img, filePath))
}

// createValidationDir creates 2 control and 2 SCD images, plus a file that should be ignored.
func createValidationDir(t *testing.T) string {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "control", "control_b.jpg"), 20, 50)
	writeImage(t, filepath.Join(root, "control", "control_a.tif"), 30, 60)
	writeImage(t, filepath.Join(root, "scd", "scd_1.TIF"), 10, 200)
	writeImage(t, filepath.Join(root, "scd", "scd_2.jpg"), 16, 210)
	require.NoError(t, os.WriteFile(filepath.Join(root, "scd", "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("ignored"), 0644))
	return root
}

func TestClassFromDirName(t *testing.T) {
	c, err := ClassFromDirName("SCD")
	require.NoError(t, err)
	assert.Equal(t, SCD, c)
	c, err = ClassFromDirName("Control_cells")
	require.NoError(t, err)
	assert.Equal(t, Control, c)
	_, err = ClassFromDirName("other")
	require.ErrorIs(t, err, ErrUnknownClass)
}

func TestScanDir(t *testing.T) {
	root := createValidationDir(t)
	samples, err := ScanDir(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"control/control_a.tif", "control/control_b.jpg", "scd/scd_1.TIF", "scd/scd_2.jpg",
	}, Names(samples))
	assert.Equal(t, [NumClasses]int{2, 2}, CountByClass(samples))

	// Empty class directory.
	require.NoError(t, os.Mkdir(filepath.Join(root, "more_control"), 0755))
	samples, err = ScanDir(root)
	require.NoError(t, err)
	assert.Len(t, samples, 4)

	// Unknown class directory.
	require.NoError(t, os.Mkdir(filepath.Join(root, "unknown"), 0755))
	_, err = ScanDir(root)
	require.ErrorIs(t, err, ErrUnknownClass)

	// No class directories.
	_, err = ScanDir(t.TempDir())
	require.Error(t, err)
}

func TestLoadImages(t *testing.T) {
	root := createValidationDir(t)
	samples := must.M1(ScanDir(root))
	images, err := LoadImages(samples, 8, 2, false)
	require.NoError(t, err)
	require.Len(t, images, 4)
	for _, img := range images {
		assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
	}
	// Order is kept: the 3rd sample is the SCD image with gray value 200.
	r, _, _, _ := images[2].At(4, 4).RGBA()
	assert.Equal(t, uint32(200*257), r)

	// Invalid image aborts the loading.
	badPath := filepath.Join(root, "scd", "scd_3.jpg")
	require.NoError(t, os.WriteFile(badPath, []byte("not a jpeg"), 0644))
	samples = must.M1(ScanDir(root))
	_, err = LoadImages(samples, 8, 2, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scd_3.jpg")
}

func TestLabelsScenario(t *testing.T) {
	// 2 control and 2 SCD images, labels must come in file-listing order.
	root := createValidationDir(t)
	samples := must.M1(ScanDir(root))
	table, err := ExtractLabels(Names(samples), false)
	require.NoError(t, err)
	require.Equal(t, 4, table.Len())
	assert.Equal(t, []Class{Control, Control, SCD, SCD}, table.Classes())
	for ii, e := range table.Entries {
		assert.Equal(t, ii, e.Index)
	}
	assert.Empty(t, table.Disagreements(samples))
}

func TestExtractLabels(t *testing.T) {
	names := []string{"a/control_1.jpg", "x/unknown.jpg", "b/scd_control.jpg", "c/control_2.tif", "SCD.jpg"}
	table, err := ExtractLabels(names, false)
	require.NoError(t, err)
	assert.Equal(t, []Class{Control, SCD, Control}, table.Classes())
	assert.Equal(t, []int{0, 2, 3}, []int{table.Entries[0].Index, table.Entries[1].Index, table.Entries[2].Index})
	assert.Equal(t, []string{"x/unknown.jpg", "SCD.jpg"}, table.Dropped)
	for _, c := range table.Classes() {
		assert.Contains(t, []Class{Control, SCD}, c)
	}

	_, err = ExtractLabels(names, true)
	require.ErrorIs(t, err, ErrUnmatchedFilename)
}

func loadTestDataset(t *testing.T, batchSize int) *Dataset {
	root := createValidationDir(t)
	samples := must.M1(ScanDir(root))
	images := must.M1(LoadImages(samples, 8, 0, false))
	ds, err := NewDataset("validation", samples, images, batchSize)
	require.NoError(t, err)
	return ds
}

func TestDatasetStableOrder(t *testing.T) {
	ds := loadTestDataset(t, 3)
	assert.Equal(t, 2, ds.NumBatches())
	assert.False(t, ds.Shuffled())
	for range 2 {
		var allLabels []float32
		var numBatches int
		for {
			_, inputs, labels, err := ds.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			numBatches++
			batch := labels[0].Shape().Dimensions[0]
			assert.Equal(t, []int{batch, 8, 8, 3}, inputs[0].Shape().Dimensions)
			assert.Equal(t, []int{batch, 1}, labels[0].Shape().Dimensions)
			allLabels = append(allLabels, tensors.MustCopyFlatData[float32](labels[0])...)
		}
		assert.Equal(t, 2, numBatches)
		assert.Equal(t, []float32{0, 0, 1, 1}, allLabels)
		ds.Reset()
	}
}

func TestDatasetShuffle(t *testing.T) {
	ds := loadTestDataset(t, 4).Shuffle(7)
	require.True(t, ds.Shuffled())
	seen := make(map[int]bool)
	_, classes, indices, err := ds.YieldImages()
	require.NoError(t, err)
	require.Len(t, indices, 4)
	for ii, idx := range indices {
		seen[idx] = true
		assert.Equal(t, ds.Samples()[idx].Class, classes[ii])
	}
	assert.Len(t, seen, 4, "every sample must be yielded exactly once per pass")
	_, _, _, err = ds.YieldImages()
	require.Equal(t, io.EOF, err)
}

func TestDatasetInfinite(t *testing.T) {
	ds := loadTestDataset(t, 3).Infinite(true)
	for range 5 {
		_, _, _, err := ds.Yield()
		require.NoError(t, err)
	}
}

func TestDatasetAugmentedValidationIsStable(t *testing.T) {
	ds := loadTestDataset(t, 4)
	aug := must.M1(augment.New(augment.DefaultConfig(), 3))
	ds.Augment(aug)
	first, _, _, err := ds.YieldImages()
	require.NoError(t, err)
	ds.Reset()
	second, _, _, err := ds.YieldImages()
	require.NoError(t, err)
	for ii := range first {
		assert.Equal(t, first[ii].(*image.NRGBA).Pix, second[ii].(*image.NRGBA).Pix)
	}
}
