package decode

import "fmt"

// DecodeError marks a source file that could not be opened as a paginated
// document (corrupt, encrypted, unsupported format). Recovery is file
// granular: the file contributes zero pages and the batch moves on.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RenderError marks a single page that could not be rasterized. Recovery is
// page granular: the page is skipped and the rest of the file continues.
type RenderError struct {
	Path    string
	PageNum int
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s page %d: %v", e.Path, e.PageNum, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
