package documents

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Inspection describes a CV payload that passed structural checks.
type Inspection struct {
	MimeType  string
	PageCount int
}

// NormalizeMime maps a sniffed or declared type onto the supported CV types.
// DOCX files are zip archives, so a zip holding word/document.xml, or a zip
// named *.docx, is reported as DOCX.
func NormalizeMime(mimeType, fileName string, data []byte) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	if clean != "application/zip" {
		return clean
	}
	if hasZipEntry(data, "word/document.xml") {
		return MimeDOCX
	}
	if strings.EqualFold(filepath.Ext(fileName), ".docx") {
		return MimeDOCX
	}
	return clean
}

// Inspect checks that data parses as the given type and reports its page count.
// Unsupported types return ErrInvalidInput; corrupt content returns ErrUnreadable.
func Inspect(data []byte, mimeType string) (Inspection, error) {
	if len(data) == 0 {
		return Inspection{}, fmt.Errorf("%w: empty file", ErrUnreadable)
	}
	switch mimeType {
	case MimePDF:
		pages, err := pdfPages(data)
		if err != nil {
			return Inspection{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		return Inspection{MimeType: MimePDF, PageCount: pages}, nil
	case MimeDOCX:
		pages, err := docxPages(data)
		if err != nil {
			return Inspection{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		return Inspection{MimeType: MimeDOCX, PageCount: pages}, nil
	default:
		return Inspection{}, fmt.Errorf("%w: unsupported mime type %q", ErrInvalidInput, mimeType)
	}
}

func pdfPages(data []byte) (pages int, err error) {
	// The parser panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	pages = reader.NumPage()
	if pages <= 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}

type docxAppProps struct {
	Pages int `xml:"Pages"`
}

func docxPages(data []byte) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	var body, app *zip.File
	for _, f := range zr.File {
		switch strings.ReplaceAll(f.Name, "\\", "/") {
		case "word/document.xml":
			body = f
		case "docProps/app.xml":
			app = f
		}
	}
	if body == nil {
		return 0, fmt.Errorf("word/document.xml not found")
	}
	if app == nil {
		return 0, nil
	}

	rc, err := app.Open()
	if err != nil {
		return 0, nil
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return 0, nil
	}
	var props docxAppProps
	if err := xml.Unmarshal(raw, &props); err != nil {
		return 0, nil
	}
	return props.Pages, nil
}

func hasZipEntry(data []byte, name string) bool {
	if len(data) == 0 {
		return false
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == name {
			return true
		}
	}
	return false
}
