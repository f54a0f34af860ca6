package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/ledger/internal/accounting/reports"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

var errStreamerClosed = errors.New("export: csv streamer not initialised")

// Metadata is written as comment lines before the header.
type Metadata struct {
	Entities    []int64
	GeneratedAt time.Time
}

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	if s == nil || s.buf == nil {
		return errStreamerClosed
	}
	// Pending rows must reach the buffer before raw text does.
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	line = strings.TrimRight(line, "\r\n") + "\r\n"
	_, err := s.buf.WriteString(line)
	return err
}

func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return errStreamerClosed
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return errStreamerClosed
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

// WriteCSV streams a table: metadata comments, header, body rows and the
// summary rows after a blank separator.
func WriteCSV(w io.Writer, table reports.Table, meta Metadata) error {
	streamer := newCSVStreamer(w)
	if err := writeMetadata(streamer, table, meta); err != nil {
		return err
	}
	columns := table.Columns()
	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Label
	}
	if err := streamer.writeRow(header); err != nil {
		return err
	}
	for row := range table.Rows() {
		if err := streamer.writeRow(row.Cells); err != nil {
			return err
		}
	}
	if summary := table.Summary(); len(summary) > 0 {
		if err := streamer.writeRow(make([]string, len(columns))); err != nil {
			return err
		}
		for _, row := range summary {
			if err := streamer.writeRow(row.Cells); err != nil {
				return err
			}
		}
	}
	return streamer.Flush()
}

func writeMetadata(streamer *csvStreamer, table reports.Table, meta Metadata) error {
	if err := streamer.writeComment(fmt.Sprintf("# Report: %s", table.Title())); err != nil {
		return err
	}
	entitiesLine := "All"
	if len(meta.Entities) > 0 {
		parts := make([]string, len(meta.Entities))
		for i, id := range meta.Entities {
			parts[i] = strconv.FormatInt(id, 10)
		}
		entitiesLine = strings.Join(parts, ",")
	}
	if err := streamer.writeComment(fmt.Sprintf("# Period: %s | Entities: %s", table.Subtitle(), entitiesLine)); err != nil {
		return err
	}
	if meta.GeneratedAt.IsZero() {
		return nil
	}
	return streamer.writeComment("# Generated: " + meta.GeneratedAt.UTC().Format(time.RFC3339))
}
