package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/inferloop/studentprep/internal/storage"
	"github.com/inferloop/studentprep/internal/storage/interfaces"
	apperrors "github.com/inferloop/studentprep/pkg/errors"
)

const sampleCSV = "Gender,LUNCH ,math score\nfemale,standard,67\nmale,NA,\n"

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "students.csv", []byte(sampleCSV))

	tbl, err := newTestLoader(Options{}, nil).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"Gender", "LUNCH ", "math score"}, tbl.Names())
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, [][]string{{"female", "standard", "67"}, {"male", "", ""}}, tbl.Records())
	assert.Equal(t, 1, tbl.MissingCount("LUNCH "))
	assert.Equal(t, 1, tbl.MissingCount("math score"))
}

func TestLoadKeepsNoneAsValue(t *testing.T) {
	path := writeFile(t, "students.csv", []byte("test preparation course\nnone\nnull\n"))

	tbl, err := newTestLoader(Options{}, nil).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.MissingCount("test preparation course"))
	assert.Equal(t, "none", tbl.Records()[0][0])
}

func TestLoadTSVAndDelimiterOverride(t *testing.T) {
	tsv := writeFile(t, "students.tsv", []byte("gender\tlunch\nfemale\tstandard\n"))
	tbl, err := newTestLoader(Options{}, nil).Load(context.Background(), tsv)
	require.NoError(t, err)
	assert.Equal(t, []string{"gender", "lunch"}, tbl.Names())

	semi := writeFile(t, "student-mat.csv", []byte("school;sex;age\nGP;F;18\n"))
	tbl, err = newTestLoader(Options{Delimiter: ";"}, nil).Load(context.Background(), semi)
	require.NoError(t, err)
	assert.Equal(t, []string{"school", "sex", "age"}, tbl.Names())
	assert.Equal(t, [][]string{{"GP", "F", "18"}}, tbl.Records())
}

func TestLoadGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	path := writeFile(t, "students.csv.gz", buf.Bytes())
	tbl, err := newTestLoader(Options{}, nil).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 3, tbl.Width())
}

func TestLoadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_, err := f.NewSheet("scores")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("scores", "A1", &[]interface{}{"Gender", "math score"}))
	require.NoError(t, f.SetSheetRow("scores", "A2", &[]interface{}{"female", 67}))
	require.NoError(t, f.SetSheetRow("scores", "A3", &[]interface{}{"male"}))

	path := filepath.Join(t.TempDir(), "students.xlsx")
	require.NoError(t, f.SaveAs(path))

	tbl, err := newTestLoader(Options{Sheet: "scores"}, nil).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gender", "math score"}, tbl.Names())
	assert.Equal(t, [][]string{{"female", "67"}, {"male", ""}}, tbl.Records())

	_, err = newTestLoader(Options{Sheet: "missing"}, nil).Load(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLoadFromS3(t *testing.T) {
	blobs := &fakeOpener{objects: map[string]string{"raw/students.csv": sampleCSV}}

	tbl, err := newTestLoader(Options{}, blobs).Load(context.Background(), "s3://school-data/raw/students.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "school-data", blobs.bucket)
	assert.True(t, blobs.closed)

	_, err = newTestLoader(Options{}, nil).Load(context.Background(), "s3://school-data/raw/students.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfiguration)
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.csv")

	_, err := newTestLoader(Options{}, nil).Load(context.Background(), missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrFileNotFound)
	assert.Contains(t, err.Error(), "absent.csv")
}

func TestLoadRaggedRows(t *testing.T) {
	short := writeFile(t, "short.csv", []byte("a,b,c\n1,2\n"))
	tbl, err := newTestLoader(Options{}, nil).Load(context.Background(), short)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.MissingCount("c"))

	long := writeFile(t, "long.csv", []byte("a,b\n1,2,3\n"))
	_, err = newTestLoader(Options{}, nil).Load(context.Background(), long)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLoadRejectsBadSources(t *testing.T) {
	empty := writeFile(t, "empty.csv", nil)
	_, err := newTestLoader(Options{}, nil).Load(context.Background(), empty)
	require.Error(t, err)

	parquet := writeFile(t, "students.parquet", []byte("PAR1"))
	_, err = newTestLoader(Options{}, nil).Load(context.Background(), parquet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source format")

	_, err = newTestLoader(Options{}, nil).Load(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestLoadRepeatedHeaders(t *testing.T) {
	path := writeFile(t, "dup.csv", []byte("\ufeffgender,gender,score\nf,m,1\n"))

	tbl, err := newTestLoader(Options{}, nil).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"gender", "gender.1", "score"}, tbl.Names())
}

func TestMangleDuplicates(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, MangleDuplicates([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "a.1", "a.2"}, MangleDuplicates([]string{"a", "a", "a"}))
	assert.Equal(t, []string{"a", "a.2", "a.1"}, MangleDuplicates([]string{"a", "a", "a.1"}))
	assert.Equal(t, []string{"", ".1"}, MangleDuplicates([]string{"", ""}))
}

// Helper functions

func newTestLoader(options Options, blobs BlobOpener) *Loader {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewLoader(options, blobs, logger)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type fakeOpener struct {
	objects map[string]string
	bucket  string
	closed  bool
}

func (f *fakeOpener) OpenBlob(loc storage.Location) (interfaces.BlobStorage, error) {
	f.bucket = loc.Bucket
	return &fakeBlob{opener: f}, nil
}

type fakeBlob struct {
	opener *fakeOpener
}

func (b *fakeBlob) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := b.opener.objects[key]
	if !ok {
		return nil, apperrors.NewFileNotFoundError(key)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (b *fakeBlob) Put(context.Context, string, io.Reader, int64, map[string]string) error {
	return nil
}

func (b *fakeBlob) Exists(_ context.Context, key string) (bool, error) {
	_, ok := b.opener.objects[key]
	return ok, nil
}

func (b *fakeBlob) Close() error {
	b.opener.closed = true
	return nil
}
