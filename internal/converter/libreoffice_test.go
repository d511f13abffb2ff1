package converter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewLibreOfficeClampsOptions(t *testing.T) {
	l := NewLibreOffice(0, 0)
	require.Equal(t, 1, cap(l.semaphore))
	require.Equal(t, 120*time.Second, l.timeout)

	l = NewLibreOffice(4, 30*time.Second)
	require.Equal(t, 4, cap(l.semaphore))
	require.Equal(t, 30*time.Second, l.timeout)
}

func TestValidateInput(t *testing.T) {
	l := NewLibreOffice(1, time.Minute)
	dir := t.TempDir()

	err := l.validateInput(filepath.Join(dir, "missing.docx"))
	require.ErrorContains(t, err, "file not found")

	require.ErrorContains(t, l.validateInput(dir), "is a directory")

	empty := filepath.Join(dir, "empty.docx")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	require.ErrorContains(t, l.validateInput(empty), "file is empty")

	ok := filepath.Join(dir, "report.docx")
	require.NoError(t, os.WriteFile(ok, []byte("content"), 0o644))
	require.NoError(t, l.validateInput(ok))
}

func TestConvertRejectsMissingInput(t *testing.T) {
	l := NewLibreOffice(1, time.Minute)
	dir := t.TempDir()

	res := l.ConvertToPDF(context.Background(), Job{
		InputPath:  filepath.Join(dir, "gone.docx"),
		OutputPath: filepath.Join(dir, "out.pdf"),
	})
	require.False(t, res.Success)
	require.Contains(t, res.Error, "input validation failed")
}

func TestExpectedOutputPath(t *testing.T) {
	l := NewLibreOffice(1, time.Minute)
	require.Equal(t, filepath.Join("/tmp/out", "report.pdf"), l.expectedOutputPath("/in/report.docx", "/tmp/out"))
	require.Equal(t, filepath.Join("/tmp/out", "notes.pdf"), l.expectedOutputPath("notes", "/tmp/out"))
}

func TestIsSupported(t *testing.T) {
	l := NewLibreOffice(1, time.Minute)

	require.True(t, l.IsSupported("docx"))
	require.True(t, l.IsSupported(".DOCX"))
	require.True(t, l.IsSupported("csv"))
	require.True(t, l.IsSupported(".odp"))
	require.False(t, l.IsSupported("pdf"))
	require.False(t, l.IsSupported("png"))
	require.False(t, l.IsSupported(""))
}
