// Package filetype classifies source files by magic bytes, not file names,
// so a mislabeled upload is routed by what it actually is: PDFs straight to
// the decoder, raster images to the image opener, office documents through
// the PDF converter first.
package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind is the routing class of a source file.
type Kind int

const (
	Unknown Kind = iota
	PDF
	Image
	Office
)

func (k Kind) String() string {
	switch k {
	case PDF:
		return "pdf"
	case Image:
		return "image"
	case Office:
		return "office"
	}
	return "unknown"
}

// Info carries the detection result for one source file.
type Info struct {
	Kind      Kind
	MIMEType  string
	Extension string
}

// Office extensions that hide inside generic ZIP or OLE containers. Magic
// bytes alone cannot tell a .docx from any other ZIP, so the extension
// breaks the tie.
var zipOfficeExts = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
}

var oleOfficeExts = map[string]string{
	".doc": "application/msword",
	".xls": "application/vnd.ms-excel",
	".ppt": "application/vnd.ms-powerpoint",
}

// Detector classifies source files using magic bytes.
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect reads the file's magic bytes and classifies it.
func (d *Detector) Detect(filePath string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	mimeType := mtype.String()
	extension := mtype.Extension()

	log.Debug().Str("mime", mimeType).Str("ext", extension).Str("file", filePath).Msg("detected file type")

	ext := strings.ToLower(filepath.Ext(filePath))
	switch {
	case mimeType == "application/zip" || strings.Contains(mimeType, "application/x-zip"):
		if override, ok := zipOfficeExts[ext]; ok {
			mimeType = override
			extension = ext
		}
	case mimeType == "application/x-ole-storage" || mimeType == "application/x-cfb":
		if override, ok := oleOfficeExts[ext]; ok {
			mimeType = override
			extension = ext
		}
	}

	return &Info{
		Kind:      classify(mimeType),
		MIMEType:  mimeType,
		Extension: extension,
	}, nil
}

// DetectKind is Detect reduced to the routing class; detection failures
// come back as Unknown so the caller's default route still applies.
func (d *Detector) DetectKind(filePath string) Kind {
	info, err := d.Detect(filePath)
	if err != nil {
		log.Debug().Err(err).Str("file", filePath).Msg("file type detection failed")
		return Unknown
	}
	return info.Kind
}

func classify(mimeType string) Kind {
	switch {
	case mimeType == "application/pdf":
		return PDF
	case mimeType == "image/png" || mimeType == "image/jpeg":
		return Image
	case isOfficeMIME(mimeType):
		return Office
	}
	return Unknown
}

func isOfficeMIME(mimeType string) bool {
	for _, m := range zipOfficeExts {
		if m == mimeType {
			return true
		}
	}
	for _, m := range oleOfficeExts {
		if m == mimeType {
			return true
		}
	}
	return mimeType == "application/rtf"
}
