package converter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LibreOffice converts office documents to PDF via a headless soffice
// subprocess, one process per conversion with its own profile directory.
type LibreOffice struct {
	semaphore chan struct{}
	timeout   time.Duration
}

// Job describes one conversion.
type Job struct {
	InputPath  string
	OutputPath string
	Timeout    time.Duration
}

// Result is the outcome of a conversion.
type Result struct {
	Success     bool
	OutputPath  string
	Error       string
	Duration    time.Duration
	IsProtected bool
}

// NewLibreOffice creates a converter that runs at most maxConcurrent
// conversions at once.
func NewLibreOffice(maxConcurrent int, timeout time.Duration) *LibreOffice {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LibreOffice{
		semaphore: make(chan struct{}, maxConcurrent),
		timeout:   timeout,
	}
}

// Initialize verifies LibreOffice is available.
func (l *LibreOffice) Initialize() error {
	cmd := exec.Command("libreoffice", "--version")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("LibreOffice not found in PATH: %w", err)
	}
	log.Info().Str("version", strings.TrimSpace(string(output))).Msg("LibreOffice found")
	return nil
}

// ConvertToPDF converts a document to PDF format.
func (l *LibreOffice) ConvertToPDF(ctx context.Context, job Job) Result {
	startTime := time.Now()

	l.semaphore <- struct{}{}
	defer func() { <-l.semaphore }()

	log.Info().Str("input", job.InputPath).Str("output", job.OutputPath).Msg("starting conversion")

	if err := l.validateInput(job.InputPath); err != nil {
		return Result{
			Success:  false,
			Error:    fmt.Sprintf("input validation failed: %v", err),
			Duration: time.Since(startTime),
		}
	}

	if isProtected, err := l.checkPasswordProtection(job.InputPath); err != nil {
		log.Warn().Err(err).Str("file", job.InputPath).Msg("could not check password protection")
	} else if isProtected {
		return Result{
			Success:     false,
			Error:       "document is password protected",
			Duration:    time.Since(startTime),
			IsProtected: true,
		}
	}

	// LibreOffice instances sharing a profile block each other, so every
	// conversion gets its own.
	profileDir := filepath.Join(os.TempDir(), fmt.Sprintf("libreoffice_profile_%s", uuid.New().String()))
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return Result{
			Success:  false,
			Error:    fmt.Sprintf("failed to create profile directory: %v", err),
			Duration: time.Since(startTime),
		}
	}
	defer os.RemoveAll(profileDir)

	outputDir := filepath.Dir(job.OutputPath)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return Result{
			Success:  false,
			Error:    fmt.Sprintf("failed to create output directory: %v", err),
			Duration: time.Since(startTime),
		}
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = l.timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(
		cctx,
		"libreoffice",
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outputDir,
		job.InputPath,
	)

	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("LibreOffice command")

	if err := cmd.Run(); err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return Result{
				Success:  false,
				Error:    fmt.Sprintf("conversion timeout after %v", timeout),
				Duration: time.Since(startTime),
			}
		}
		return Result{
			Success:  false,
			Error:    fmt.Sprintf("conversion failed: %v", err),
			Duration: time.Since(startTime),
		}
	}

	// LibreOffice names output after the input file; rename to the
	// requested path when they differ.
	expectedOutput := l.expectedOutputPath(job.InputPath, outputDir)
	actualOutput := job.OutputPath
	if expectedOutput != actualOutput {
		if _, err := os.Stat(expectedOutput); err == nil {
			if err := os.Rename(expectedOutput, actualOutput); err != nil {
				log.Warn().Err(err).Str("from", expectedOutput).Str("to", actualOutput).Msg("failed to rename")
				actualOutput = expectedOutput
			}
		}
	}

	if _, err := os.Stat(actualOutput); err != nil {
		return Result{
			Success:  false,
			Error:    fmt.Sprintf("output file not created: %v", err),
			Duration: time.Since(startTime),
		}
	}

	log.Info().Str("output", actualOutput).Dur("duration", time.Since(startTime)).Msg("conversion successful")

	return Result{
		Success:    true,
		OutputPath: actualOutput,
		Duration:   time.Since(startTime),
	}
}

// validateInput checks if the input file is readable.
func (l *LibreOffice) validateInput(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("file not readable: %w", err)
	}
	file.Close()
	return nil
}

// checkPasswordProtection checks if a document is password protected.
func (l *LibreOffice) checkPasswordProtection(filePath string) (bool, error) {
	cmd := exec.Command(
		"libreoffice",
		"--headless",
		"--cat",
		filePath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		outputStr := strings.ToLower(string(output))
		if strings.Contains(outputStr, "password") ||
			strings.Contains(outputStr, "encrypted") ||
			strings.Contains(outputStr, "protected") {
			return true, nil
		}
	}
	return false, nil
}

// expectedOutputPath is where LibreOffice will create the output file.
func (l *LibreOffice) expectedOutputPath(inputPath, outputDir string) string {
	baseName := filepath.Base(inputPath)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	return filepath.Join(outputDir, nameWithoutExt+".pdf")
}

// SupportedExtensions lists file extensions accepted for conversion.
func (l *LibreOffice) SupportedExtensions() []string {
	return []string{
		"doc", "docx", "rtf", "odt", // Word processing
		"xls", "xlsx", "ods", "csv", // Spreadsheets
		"ppt", "pptx", "odp", // Presentations
		"txt", "html", "htm", // Text/Web
	}
}

// IsSupported checks if a file extension is supported for conversion.
func (l *LibreOffice) IsSupported(extension string) bool {
	ext := strings.ToLower(strings.TrimPrefix(extension, "."))
	for _, supportedExt := range l.SupportedExtensions() {
		if ext == supportedExt {
			return true
		}
	}
	return false
}
