// Package conversion turns customer documents into printable PDFs and counts their pages.
package conversion

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFileType is returned for extensions the shop cannot print.
var ErrUnsupportedFileType = errors.New("conversion: unsupported file type")

// Kind groups file extensions by how they are turned into a PDF.
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindDocument
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindDocument:
		return "document"
	case KindPDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

var kindsByExt = map[string]Kind{
	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage, ".tiff": KindImage,
	".tif": KindImage, ".bmp": KindImage, ".gif": KindImage,

	".doc": KindDocument, ".docx": KindDocument, ".dot": KindDocument, ".dotx": KindDocument,
	".docm": KindDocument, ".odt": KindDocument,
	".ppt": KindDocument, ".pptx": KindDocument, ".pot": KindDocument, ".potx": KindDocument,
	".pps": KindDocument, ".ppsx": KindDocument, ".pptm": KindDocument, ".odp": KindDocument,
	".xls": KindDocument, ".xlsx": KindDocument, ".xlt": KindDocument, ".xltx": KindDocument,
	".xlsm": KindDocument, ".ods": KindDocument,
	".rtf": KindDocument, ".txt": KindDocument, ".html": KindDocument, ".htm": KindDocument,

	".pdf": KindPDF,
}

// SupportedTypes is the human readable list returned alongside unsupported file errors.
var SupportedTypes = []string{
	"Images: PNG, JPG, JPEG, TIFF, BMP, GIF",
	"Documents: DOC, DOCX, PPT, PPTX, XLS, XLSX, ODT, ODP, ODS",
	"PDF: PDF",
}

// Classify maps a file name to its Kind using the lower-cased extension.
func Classify(name string) Kind {
	return kindsByExt[strings.ToLower(filepath.Ext(strings.TrimSpace(name)))]
}
