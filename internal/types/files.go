package types

import "strings"

// PDFContentType is the only declared type accepted for upload.
const PDFContentType = "application/pdf"

// FileRef is a document picked for upload. ContentType is the declared type
// detected when the file was picked; the pipeline trusts it without re-reading
// the file.
type FileRef struct {
	Name        string
	Path        string
	ContentType string
	Size        int64
}

// IsPDF reports whether the declared type is application/pdf (parameters such
// as charset are ignored).
func (f FileRef) IsPDF() bool {
	ct := f.ContentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.EqualFold(strings.TrimSpace(ct), PDFContentType)
}

// InputMode is the composer mode: free text, or a pending file batch.
type InputMode int

const (
	ModeText InputMode = iota
	ModeFile
)

func (m InputMode) String() string {
	if m == ModeFile {
		return "file"
	}
	return "text"
}

// OperationState is the per-conversation busy flag.
type OperationState int

const (
	StateIdle OperationState = iota
	StateUploading
	StateQuerying
)

func (s OperationState) String() string {
	switch s {
	case StateUploading:
		return "uploading"
	case StateQuerying:
		return "querying"
	default:
		return "idle"
	}
}

// Busy reports whether an operation is in flight.
func (s OperationState) Busy() bool { return s != StateIdle }

// Theme is the persisted colour preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme accepts "light" and "dark"; anything else is light.
func ParseTheme(s string) Theme {
	if strings.EqualFold(strings.TrimSpace(s), string(ThemeDark)) {
		return ThemeDark
	}
	return ThemeLight
}

// Toggle returns the opposite theme.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}
