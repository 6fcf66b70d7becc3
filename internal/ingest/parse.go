package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// ParseStats summarizes one parse
type ParseStats struct {
	TotalRows    int `json:"totalRows"`
	RecordsValid int `json:"recordsValid"`
	Invalid      int `json:"invalid"`
	Skipped      int `json:"skipped"`
}

// String returns a human-readable summary of parsing statistics
func (ps ParseStats) String() string {
	return fmt.Sprintf("Parsed %d rows (%d valid, %d invalid, %d empty)",
		ps.TotalRows, ps.RecordsValid, ps.Invalid, ps.Skipped)
}

// Parser turns uploaded statement bytes into bank transactions
type Parser struct {
	config *ColumnConfig
	logger logger.Logger
}

// NewParser creates a parser; a nil config uses DefaultColumnConfig
func NewParser(config *ColumnConfig) (*Parser, error) {
	if config == nil {
		config = DefaultColumnConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingest.columns", config, err)
	}
	return &Parser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("statement_parser"),
	}, nil
}

// Parse reads every row of a statement. Bad rows are collected in the
// returned collector and skipped; a structural problem such as missing
// columns or an unreadable file fails the whole parse.
func (p *Parser) Parse(ctx context.Context, st Statement, format Format) ([]models.BankTransaction, ParseStats, *errors.RowErrorCollector, error) {
	var rows [][]string
	var err error
	switch format {
	case FormatCSV:
		rows, err = p.readCSV(st)
	case FormatXLSX:
		rows, err = readXLSX(st)
	default:
		err = errors.ValidationError(errors.CodeInvalidFormat, "format", format, nil)
	}
	if err != nil {
		return nil, ParseStats{}, nil, err
	}
	return p.parseRows(ctx, st.Name, rows)
}

func (p *Parser) readCSV(st Statement) ([][]string, error) {
	if !utf8.Valid(st.Data) {
		return nil, errors.ParseError(errors.CodeEncodingError, st.Name, 0, "encoding", "",
			fmt.Errorf("invalid UTF-8 encoding detected"))
	}
	data := bytes.TrimPrefix(st.Data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = p.config.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var line int
			var pe *csv.ParseError
			if stderrors.As(err, &pe) {
				line = pe.Line
			}
			return nil, errors.ParseError(errors.CodeInvalidFormat, st.Name, line, "", "", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func readXLSX(st Statement) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(st.Data))
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, st.Name, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.ParseError(errors.CodeInvalidFormat, st.Name, 0, "sheet", "",
			fmt.Errorf("workbook has no sheets"))
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, st.Name, 0, "sheet", sheet, err)
	}
	return rows, nil
}

func (p *Parser) parseRows(ctx context.Context, file string, rows [][]string) ([]models.BankTransaction, ParseStats, *errors.RowErrorCollector, error) {
	collector := errors.NewRowErrorCollector(p.config.MaxRowErrors)
	var stats ParseStats

	if len(rows) == 0 {
		return nil, stats, collector, errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
			WithSuggestion("ensure the statement contains a header row and data rows")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = p.config.Canonical(h)
	}
	if missing := errors.FindMissingColumns(p.config.Required, headers); len(missing) > 0 {
		return nil, stats, collector, errors.ParseError(errors.CodeMissingColumn, file, 1, "headers",
			strings.Join(missing, ", "), nil).
			WithSuggestion(fmt.Sprintf("ensure the statement contains these columns: %s", strings.Join(missing, ", ")))
	}
	index := p.config.headerIndex(rows[0])

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "parse " + file,
		Total:     int64(len(rows) - 1),
		Logger:    p.logger,
	})

	var out []models.BankTransaction
	for i, row := range rows[1:] {
		line := i + 2
		if err := ctx.Err(); err != nil {
			tracker.CompleteWithError(err)
			return out, stats, collector, err
		}
		tracker.Increment()

		if isEmptyRow(row) {
			stats.Skipped++
			continue
		}
		stats.TotalRows++

		tx, rowErr := p.parseRow(file, line, row, index)
		if rowErr != nil {
			stats.Invalid++
			if !collector.Add(rowErr) {
				err := errors.ParseError(errors.CodeInvalidData, file, line, "", "",
					fmt.Errorf("too many invalid rows (%d)", stats.Invalid))
				tracker.CompleteWithError(err)
				return out, stats, collector, err
			}
			continue
		}
		out = append(out, tx)
		stats.RecordsValid++
	}
	tracker.Complete()

	p.logger.WithFields(logger.Fields{
		"file":    file,
		"valid":   stats.RecordsValid,
		"invalid": stats.Invalid,
	}).Debug(stats.String())
	return out, stats, collector, nil
}

func (p *Parser) parseRow(file string, line int, row []string, index map[string]int) (models.BankTransaction, *errors.RowError) {
	cell := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for _, col := range p.config.Required {
		if cell(col) == "" {
			return models.BankTransaction{}, errors.EmptyValueRow(file, line, col)
		}
	}

	rawDate := cell(ColumnDate)
	date, err := models.NormalizeDate(rawDate)
	if err != nil {
		return models.BankTransaction{}, errors.InvalidDateRow(file, line, ColumnDate, rawDate)
	}

	rawAmount := cell(ColumnAmount)
	amount, err := models.ParseDecimalFromString(rawAmount)
	if err != nil {
		return models.BankTransaction{}, errors.InvalidAmountRow(file, line, ColumnAmount, rawAmount)
	}

	tx := models.BankTransaction{
		ID:          cell(ColumnID),
		Date:        date,
		Description: cell(ColumnDescription),
		Amount:      amount,
		Reference:   cell(ColumnReference),
	}
	if tx.ID == "" {
		tx.ID = "BNK-" + shortID()
	}
	if raw := cell(ColumnBalance); raw != "" {
		balance, err := models.ParseDecimalFromString(raw)
		if err != nil {
			return models.BankTransaction{}, errors.InvalidAmountRow(file, line, ColumnBalance, raw)
		}
		tx.Balance = &balance
	}
	return tx, nil
}

func isEmptyRow(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
