// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persist

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/regscrape/services/register/record"
)

// FilePath returns <dir>/<population>/<stem>.<ext>.
func FilePath(dir string, pop record.Population, cat record.Category, ext string) string {
	return filepath.Join(dir, pop.String(), cat.Stem()+"."+ext)
}

// openAppend opens (creating if needed) a file for appending and reports
// whether it was empty before this write.
func openAppend(path string) (*os.File, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, false, err
	}
	return f, info.Size() == 0, nil
}

// =============================================================================
// CSV
// =============================================================================

// CSVSink appends rows to <dir>/<population>/<stem>.csv.
//
// The header is written only when the file is empty. Its shape comes from
// the rows of that first write; later rows with other columns are still
// written, aligned to their own first-seen column order.
type CSVSink struct {
	Dir string
}

// NewCSVSink creates a CSV sink rooted at dir.
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{Dir: dir}
}

func (s *CSVSink) Name() string { return "csv" }

// Append writes rows, with a header if the file is new.
func (s *CSVSink) Append(_ context.Context, pop record.Population, cat record.Category, rows []record.Row) error {
	path := FilePath(s.Dir, pop, cat, "csv")
	f, empty, err := openAppend(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cols := columnsOf(rows)
	w := csv.NewWriter(f)
	if empty {
		if err := w.Write(cols); err != nil {
			return fmt.Errorf("write header %s: %w", path, err)
		}
	}
	for _, row := range rows {
		if err := w.Write(aligned(row, cols)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

func (s *CSVSink) Close() error { return nil }

// =============================================================================
// XML
// =============================================================================

// XMLSink appends RowsToXML fragments to <dir>/<population>/<stem>.xml.
// The file is a sequence of <item> elements without a root element.
type XMLSink struct {
	Dir string
}

// NewXMLSink creates an XML sink rooted at dir.
func NewXMLSink(dir string) *XMLSink {
	return &XMLSink{Dir: dir}
}

func (s *XMLSink) Name() string { return "xml" }

// Append writes one <item> per row followed by a newline.
func (s *XMLSink) Append(_ context.Context, pop record.Population, cat record.Category, rows []record.Row) error {
	path := FilePath(s.Dir, pop, cat, "xml")
	f, _, err := openAppend(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(RowsToXML(rows)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

func (s *XMLSink) Close() error { return nil }

// RowsToXML renders rows as newline-separated <item> elements:
//
//	<item>
//	  <field name="licence">FA1000</field>
//	</item>
//
// Names and values are XML-escaped; null values render empty.
func RowsToXML(rows []record.Row) string {
	cols := columnsOf(rows)
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("<item>")
		for j, v := range aligned(row, cols) {
			b.WriteString("\n  <field name=\"")
			escape(&b, cols[j])
			b.WriteString("\">")
			escape(&b, v)
			b.WriteString("</field>")
		}
		b.WriteString("\n</item>")
	}
	return b.String()
}

func escape(b *strings.Builder, s string) {
	// strings.Builder writes never fail.
	_ = xml.EscapeText(b, []byte(s))
}
