// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/logger"
	"github.com/noldarim/edumesh/internal/orchestrator/models"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

var (
	exportLog     *zerolog.Logger
	exportLogOnce sync.Once
)

func getExportLog() *zerolog.Logger {
	exportLogOnce.Do(func() {
		l := logger.GetExportLogger()
		exportLog = &l
	})
	return exportLog
}

// Supported export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXML  = "xml"
	FormatYAML = "yaml"
)

var supportedFormats = []string{FormatJSON, FormatCSV, FormatXML, FormatYAML}

// ExportRequest describes one export.
type ExportRequest struct {
	CorrelationID string
	Format        string
	DataType      string
	TargetSystem  string
	// Payload is a record, a list of records, or any JSON-like value.
	Payload any
}

// ExportResult describes a written export.
type ExportResult struct {
	Format      string    `json:"format"`
	Path        string    `json:"path"`
	RecordCount int       `json:"record_count"`
	SizeBytes   int64     `json:"size_bytes"`
	ExportedAt  time.Time `json:"exported_at"`
}

// ExportService converts records and writes them under the export directory.
type ExportService struct {
	dir      string
	maxRows  int
	recorder ExportRecorder
}

// NewExportService creates an export service. recorder may be nil.
func NewExportService(cfg config.ExportConfig, recorder ExportRecorder) *ExportService {
	return &ExportService{
		dir:      cfg.Dir,
		maxRows:  cfg.MaxRows,
		recorder: recorder,
	}
}

// SupportedFormats lists the accepted format names.
func (s *ExportService) SupportedFormats() []string {
	return append([]string(nil), supportedFormats...)
}

// Export converts req.Payload and writes it atomically to disk.
func (s *ExportService) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	format := strings.ToLower(req.Format)
	if !lo.Contains(supportedFormats, format) {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrExport, req.Format)
	}

	records := ToRecords(req.Payload)
	if s.maxRows > 0 && len(records) > s.maxRows {
		return nil, fmt.Errorf("%w: %d records exceeds limit of %d", ErrExport, len(records), s.maxRows)
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON, FormatYAML:
		// Structured formats keep the payload's original shape
		data, err = encodeStructured(req.Payload, format)
	default:
		data, err = s.Convert(records, format)
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating export dir: %v", ErrExport, err)
	}

	dataType := req.DataType
	if dataType == "" {
		dataType = "export"
	}
	name := fmt.Sprintf("%s_%s_%s.%s", sanitizeName(dataType), time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8], format)
	path := filepath.Join(s.dir, name)

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", ErrExport, path, err)
	}

	result := &ExportResult{
		Format:      format,
		Path:        path,
		RecordCount: len(records),
		SizeBytes:   int64(len(data)),
		ExportedAt:  time.Now(),
	}

	if s.recorder != nil {
		err := s.recorder.SaveExport(ctx, &models.ExportRecord{
			CorrelationID: req.CorrelationID,
			Format:        format,
			DataType:      dataType,
			TargetSystem:  req.TargetSystem,
			Path:          path,
			RecordCount:   result.RecordCount,
			SizeBytes:     result.SizeBytes,
		})
		if err != nil {
			// The file is written; a missing audit row should not fail the export
			getExportLog().Warn().Err(err).Str("path", path).Msg("Failed to record export")
		}
	}

	getExportLog().Info().
		Str("correlation_id", req.CorrelationID).
		Str("format", format).
		Str("path", path).
		Int("records", result.RecordCount).
		Msg("Export written")
	return result, nil
}

// Convert renders records in format.
func (s *ExportService) Convert(records []map[string]any, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return encodeStructured(records, FormatJSON)
	case FormatYAML:
		return encodeStructured(records, FormatYAML)
	case FormatCSV:
		return encodeCSV(records)
	case FormatXML:
		return encodeXML(records)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrExport, format)
	}
}

// Parse decodes data in format into records.
func (s *ExportService) Parse(data []byte, format string) ([]map[string]any, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: invalid json: %v", ErrExport, err)
		}
		return ToRecords(v), nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: invalid yaml: %v", ErrExport, err)
		}
		return ToRecords(v), nil
	case FormatCSV:
		return decodeCSV(data)
	default:
		return nil, fmt.Errorf("%w: cannot import format %q", ErrExport, format)
	}
}

// ToRecords normalises a payload into a list of records.
func ToRecords(payload any) []map[string]any {
	switch v := payload.(type) {
	case nil:
		return nil
	case []map[string]any:
		return v
	case map[string]any:
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, err := cast.ToStringMapE(item); err == nil {
				out = append(out, m)
			} else {
				out = append(out, map[string]any{"value": item})
			}
		}
		return out
	default:
		if m, err := cast.ToStringMapE(v); err == nil {
			return []map[string]any{m}
		}
		return []map[string]any{{"value": v}}
	}
}

func encodeStructured(v any, format string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if format == FormatYAML {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s: %v", ErrExport, format, err)
	}
	return data, nil
}

// flatten turns nested maps into dotted keys; lists become JSON strings.
func flatten(prefix string, v any, out map[string]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, inner, out)
		}
	case []any, []map[string]any, []string, []int, []float64:
		b, _ := json.Marshal(val)
		out[prefix] = string(b)
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = cast.ToString(val)
	}
}

func encodeCSV(records []map[string]any) ([]byte, error) {
	rows := make([]map[string]string, len(records))
	var columns []string
	seen := map[string]bool{}
	for i, r := range records {
		rows[i] = map[string]string{}
		flatten("", r, rows[i])
		keys := lo.Keys(rows[i])
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(columns) > 0 {
		if err := w.Write(columns); err != nil {
			return nil, fmt.Errorf("%w: writing csv header: %v", ErrExport, err)
		}
	}
	for _, row := range rows {
		line := lo.Map(columns, func(c string, _ int) string { return row[c] })
		if err := w.Write(line); err != nil {
			return nil, fmt.Errorf("%w: writing csv row: %v", ErrExport, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("%w: flushing csv: %v", ErrExport, err)
	}
	return buf.Bytes(), nil
}

func decodeCSV(data []byte) ([]map[string]any, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid csv: %v", ErrExport, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	out := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeXML(records []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "export"}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, fmt.Errorf("%w: encoding xml: %v", ErrExport, err)
	}
	for _, r := range records {
		if err := encodeXMLValue(enc, "record", r); err != nil {
			return nil, fmt.Errorf("%w: encoding xml: %v", ErrExport, err)
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, fmt.Errorf("%w: encoding xml: %v", ErrExport, err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("%w: encoding xml: %v", ErrExport, err)
	}
	return buf.Bytes(), nil
}

func encodeXMLValue(enc *xml.Encoder, name string, v any) error {
	start := xml.StartElement{Name: xml.Name{Local: xmlName(name)}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	switch val := v.(type) {
	case map[string]any:
		keys := lo.Keys(val)
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeXMLValue(enc, k, val[k]); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range val {
			if err := encodeXMLValue(enc, "item", item); err != nil {
				return err
			}
		}
	case []map[string]any:
		for _, item := range val {
			if err := encodeXMLValue(enc, "item", item); err != nil {
				return err
			}
		}
	case nil:
	default:
		if err := enc.EncodeToken(xml.CharData(cast.ToString(val))); err != nil {
			return err
		}
	}

	return enc.EncodeToken(start.End())
}

// xmlName maps an arbitrary key to a valid element name.
func xmlName(key string) string {
	if key == "" {
		return "field"
	}
	var b strings.Builder
	for i, r := range key {
		valid := unicode.IsLetter(r) || r == '_' || (i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'))
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, s)
}

var _ Exporter = (*ExportService)(nil)
