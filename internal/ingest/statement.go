package ingest

import (
	"bytes"
	"path/filepath"
	"strings"

	"reconciliation-workflow/pkg/errors"
)

// Format is a supported statement file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var zipMagic = []byte("PK\x03\x04")

// Statement is an uploaded bank statement file
type Statement struct {
	Name     string
	Data     []byte
	Uploader string
	// IPAddress of the uploader, recorded in the audit trail
	IPAddress string
}

// DetectFormat picks the statement format from the file extension, falling
// back to content sniffing when the name has none.
func DetectFormat(st Statement) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(st.Name)); ext {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return "", errors.ValidationError(errors.CodeInvalidFormat, "file", st.Name, nil).
			WithSuggestion("save legacy .xls workbooks as .xlsx or CSV")
	case "":
		if bytes.HasPrefix(st.Data, zipMagic) {
			return FormatXLSX, nil
		}
		return FormatCSV, nil
	default:
		return "", errors.ValidationError(errors.CodeInvalidFormat, "file", st.Name, nil).
			WithSuggestion("upload a CSV or XLSX statement")
	}
}
