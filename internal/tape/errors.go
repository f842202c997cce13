package tape

import "fmt"

// UnsupportedFormatError indicates the file extension is not a readable
// tape format.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return fmt.Sprintf("unsupported tape format: %s has no extension", e.Path)
	}
	return fmt.Sprintf("unsupported tape format %q: %s", e.Ext, e.Path)
}

// SheetNotFoundError indicates the requested worksheet does not exist in
// the workbook.
type SheetNotFoundError struct {
	Path      string
	Sheet     string
	Available []string
}

func (e *SheetNotFoundError) Error() string {
	return fmt.Sprintf("sheet %q not found in %s (available: %v)", e.Sheet, e.Path, e.Available)
}

// EmptyFileError indicates the tape contains no data rows.
type EmptyFileError struct {
	Path string
}

func (e *EmptyFileError) Error() string {
	return fmt.Sprintf("no data rows in %s", e.Path)
}
