package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"email-extractor-go/internal/model"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

var (
	// ErrUnsupportedFormat is returned when the content does not match the requested format
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	// ErrNotText is returned for delimited content that is binary or not UTF-8
	ErrNotText = errors.New("delimited content is not text")
)

// Format selects the decoder. The caller decides it from the file name;
// content is only sniffed to tell workbook generations apart.
type Format int

const (
	FormatUnknown Format = iota
	FormatWorkbook
	FormatDelimited
)

func (f Format) String() string {
	switch f {
	case FormatWorkbook:
		return "workbook"
	case FormatDelimited:
		return "delimited"
	default:
		return "unknown"
	}
}

// Result is the decoded content of the first sheet
type Result struct {
	Rows        []model.Row `json:"data"`
	Headers     []string    `json:"headers"`
	ColumnCount int         `json:"columnCount"`
	RowCount    int         `json:"rowCount"`
}

// Empty returns the result used when nothing could be decoded
func Empty() Result {
	return Result{Rows: []model.Row{}, Headers: []string{}}
}

// Parse decodes a workbook or delimited file. Decode errors are logged and
// yield the empty result.
func Parse(data []byte, format Format) Result {
	res, err := Decode(data, format)
	if err != nil {
		logrus.WithError(err).WithField("format", format.String()).Warn("Failed to parse spreadsheet")
		return Empty()
	}
	return res
}

// Decode decodes the first sheet of data as format
func Decode(data []byte, format Format) (Result, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Empty(), nil
	}

	var (
		grid [][]string
		err  error
	)
	switch format {
	case FormatWorkbook:
		switch {
		case bytes.HasPrefix(data, zipMagic):
			grid, err = readWorkbook(data)
		case bytes.HasPrefix(data, oleMagic):
			grid, err = readLegacyWorkbook(data)
		default:
			err = fmt.Errorf("%w: not an xlsx or xls workbook", ErrUnsupportedFormat)
		}
	case FormatDelimited:
		grid, err = readDelimited(data)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return Empty(), err
	}
	return fromGrid(grid), nil
}

func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// readLegacyWorkbook reads the first sheet of a BIFF (.xls) workbook
func readLegacyWorkbook(data []byte) (grid [][]string, err error) {
	// the BIFF reader panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			grid, err = nil, fmt.Errorf("failed to read xls workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to open xls workbook: %w", err)
	}

	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, nil
	}

	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			grid = append(grid, nil)
			continue
		}
		// LastCol is one past the last cell
		cells := make([]string, 0, row.LastCol())
		for c := 0; c < row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		grid = append(grid, cells)
	}
	return grid, nil
}

func readDelimited(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return nil, ErrNotText
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// fromGrid turns raw cell text into keyed rows. The first non-blank row is the
// header, blank rows are dropped and every row carries every column.
func fromGrid(grid [][]string) Result {
	grid = trimLeadingColumns(grid)

	width := 0
	for _, cells := range grid {
		if n := usedWidth(cells); n > width {
			width = n
		}
	}

	start := 0
	for start < len(grid) && usedWidth(grid[start]) == 0 {
		start++
	}
	if start >= len(grid) || width == 0 {
		return Empty()
	}

	headers := headerNames(grid[start], width)

	rows := []model.Row{}
	for _, cells := range grid[start+1:] {
		if usedWidth(cells) == 0 {
			continue
		}
		row := make(model.Row, width)
		for i := 0; i < width; i++ {
			row[i] = model.Cell{Column: headers[i], Value: cellAt(cells, i)}
		}
		rows = append(rows, row)
	}

	union := unionHeaders(rows)
	return Result{
		Rows:        rows,
		Headers:     union,
		ColumnCount: len(union),
		RowCount:    len(rows),
	}
}

// headerNames names each column, filling blanks with __EMPTY and suffixing
// duplicates with _1, _2 and so on.
func headerNames(cells []string, width int) []string {
	names := make([]string, width)
	seen := make(map[string]int, width)
	for i := 0; i < width; i++ {
		base := strings.TrimSpace(cellAt(cells, i))
		if base == "" {
			base = "__EMPTY"
		}
		name := base
		for {
			n, taken := seen[name]
			if !taken {
				break
			}
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", base, n+1)
		}
		seen[name] = 0
		names[i] = name
	}
	return names
}

func unionHeaders(rows []model.Row) []string {
	headers := []string{}
	seen := make(map[string]bool)
	for _, row := range rows {
		for _, col := range row.Columns() {
			if !seen[col] {
				seen[col] = true
				headers = append(headers, col)
			}
		}
	}
	return headers
}

func trimLeadingColumns(grid [][]string) [][]string {
	skip := -1
	for _, cells := range grid {
		for i, v := range cells {
			if strings.TrimSpace(v) != "" {
				if skip == -1 || i < skip {
					skip = i
				}
				break
			}
		}
	}
	if skip <= 0 {
		return grid
	}

	out := make([][]string, len(grid))
	for i, cells := range grid {
		if len(cells) > skip {
			out[i] = cells[skip:]
		}
	}
	return out
}

func usedWidth(cells []string) int {
	for i := len(cells) - 1; i >= 0; i-- {
		if strings.TrimSpace(cells[i]) != "" {
			return i + 1
		}
	}
	return 0
}

func cellAt(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}
