// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/logger"
	"github.com/noldarim/edumesh/internal/orchestrator/database"
	"github.com/noldarim/edumesh/internal/orchestrator/models"
	"github.com/noldarim/edumesh/internal/orchestrator/services"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

var (
	// ErrUnknownSystem is returned for operations naming an unregistered external system.
	ErrUnknownSystem = errors.New("unknown external system")
	// ErrInvalidData is returned when records fail validation.
	ErrInvalidData = errors.New("data validation failed")
	// ErrOutsideImportDir is returned for file imports that resolve outside
	// the configured import directory.
	ErrOutsideImportDir = errors.New("path is outside the import directory")
	// ErrResponseTooLarge is returned when an external system answers with
	// more than the configured number of bytes.
	ErrResponseTooLarge = errors.New("response too large")
)

// Sync directions.
const (
	SyncPush          = "push"
	SyncPull          = "pull"
	SyncBidirectional = "bidirectional"
)

// requiredFields lists the fields each importable data type must carry.
var requiredFields = map[string][]string{
	"students":       {"student_no", "name"},
	"scores":         {"student_id", "case_id", "obtained_score"},
	"operation_logs": {"student_id", "log_type"},
}

var contentTypes = map[string]string{
	services.FormatJSON: "application/json",
	services.FormatCSV:  "text/csv",
	services.FormatXML:  "application/xml",
	services.FormatYAML: "application/yaml",
}

// ExternalSystem is a registered integration target.
type ExternalSystem struct {
	ID           string            `json:"system_id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"` // api, database, file_server
	Endpoint     string            `json:"endpoint"`
	Headers      map[string]string `json:"-"`
	Enabled      bool              `json:"enabled"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// InterfaceManagementAgent moves data in and out of the system: exports,
// imports, format conversion and external system sync.
type InterfaceManagementAgent struct {
	*agent.Dispatcher
	data     services.DataAccess
	exporter services.Exporter
	client   *http.Client
	cfg      config.IntegrationConfig
	log      zerolog.Logger

	// systems is only touched by handlers, which run on the agent's own
	// processing goroutine.
	systems map[string]*ExternalSystem
}

// NewInterfaceManagementAgent creates the agent. A nil client uses
// cfg.Timeout, or 30 seconds when that is unset.
func NewInterfaceManagementAgent(data services.DataAccess, exporter services.Exporter, client *http.Client, cfg config.IntegrationConfig) *InterfaceManagementAgent {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 10 << 20
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	a := &InterfaceManagementAgent{
		Dispatcher: agent.NewDispatcher(InterfaceManagementID),
		data:       data,
		exporter:   exporter,
		client:     client,
		cfg:        cfg,
		log:        logger.ForAgent(InterfaceManagementID),
		systems:    make(map[string]*ExternalSystem),
	}
	a.On(MsgExportData, a.exportData).
		On(MsgImportData, a.importData).
		On(MsgConvertFormat, a.convertFormat).
		On(MsgValidateData, a.validateData).
		On(MsgRegisterExternalSystem, a.registerSystem).
		On(MsgSyncWithExternal, a.syncWithExternal)
	return a
}

// Identity describes the agent for status reporting.
func (a *InterfaceManagementAgent) Identity() agent.Identity {
	return agent.Identity{
		ID:          InterfaceManagementID,
		Name:        "Interface Management Agent",
		Description: "Exports, imports and converts data and syncs with external systems",
	}
}

func (a *InterfaceManagementAgent) exportData(ctx context.Context, msg agent.Message) (map[string]any, error) {
	c := msg.Content
	raw, ok := c.Value("data")
	if !ok || raw == nil {
		return nil, errors.New("data is required")
	}
	payload := plain(raw)
	format := strings.ToLower(c.String("format", services.FormatJSON))
	dataType := c.String("data_type", "export")
	target := c.String("target_system", "")

	if target == "" {
		res, err := a.exporter.Export(ctx, services.ExportRequest{
			CorrelationID: msg.CorrelationID,
			Format:        format,
			DataType:      dataType,
			Payload:       payload,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"export_type":  "file",
			"format":       res.Format,
			"data_type":    dataType,
			"record_count": res.RecordCount,
			"path":         res.Path,
			"size_bytes":   res.SizeBytes,
			"timestamp":    res.ExportedAt.UTC().Format(time.RFC3339),
		}, nil
	}

	sys, err := a.system(target)
	if err != nil {
		return nil, err
	}
	records := services.ToRecords(payload)
	body, err := a.exporter.Convert(records, format)
	if err != nil {
		return nil, err
	}
	status, _, err := a.do(ctx, http.MethodPost, sys.Endpoint, sys.Headers, body, contentTypes[format])
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, fmt.Errorf("external system %s rejected export with status %d", sys.ID, status)
	}

	a.log.Info().
		Str("correlation_id", msg.CorrelationID).
		Str("system_id", sys.ID).
		Int("records", len(records)).
		Msg("Data pushed to external system")
	return map[string]any{
		"export_type":   "direct",
		"target_system": sys.ID,
		"format":        format,
		"data_type":     dataType,
		"record_count":  len(records),
		"status_code":   status,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (a *InterfaceManagementAgent) importData(ctx context.Context, msg agent.Message) (map[string]any, error) {
	c := msg.Content
	dataType := c.String("data_type", "students")
	if dataType != "students" {
		return nil, fmt.Errorf("import of %q is not supported", dataType)
	}
	format := strings.ToLower(c.String("format", services.FormatJSON))

	source := c.Map("source")
	var (
		records []map[string]any
		err     error
	)
	switch cast.ToString(source["type"]) {
	case "inline":
		records = services.ToRecords(plain(source["records"]))
	case "file":
		var (
			path string
			data []byte
		)
		path, err = importPath(a.cfg.ImportDir, cast.ToString(source["path"]))
		if err == nil {
			data, err = os.ReadFile(path)
		}
		if err == nil {
			records, err = a.exporter.Parse(data, format)
		}
	case "api":
		var (
			status int
			data   []byte
		)
		status, data, err = a.do(ctx, http.MethodGet, cast.ToString(source["url"]), cast.ToStringMapString(source["headers"]), nil, "")
		if err == nil && status/100 != 2 {
			err = fmt.Errorf("source returned status %d", status)
		}
		if err == nil {
			records, err = a.exporter.Parse(data, format)
		}
	default:
		return nil, fmt.Errorf("unsupported source type %q", cast.ToString(source["type"]))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read import source: %w", err)
	}

	records = mapFields(records, cast.ToStringMapString(c.Map("mapping_config")))
	if problems := validateRecords(records, dataType); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidData, strings.Join(lo.Slice(problems, 0, 5), "; "))
	}

	students := lo.Map(records, func(r map[string]any, _ int) models.Student {
		return models.Student{
			StudentNo: cast.ToString(r["student_no"]),
			Name:      cast.ToString(r["name"]),
			ClassName: cast.ToString(r["class_name"]),
			Grade:     cast.ToString(r["grade"]),
			Major:     cast.ToString(r["major"]),
			Email:     cast.ToString(r["email"]),
			Gender:    cast.ToString(r["gender"]),
			IsActive:  true,
		}
	})
	imported, err := a.data.ImportStudents(ctx, students)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"import_type":    dataType,
		"source_format":  format,
		"record_count":   len(records),
		"imported_count": imported,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (a *InterfaceManagementAgent) convertFormat(_ context.Context, msg agent.Message) (map[string]any, error) {
	c := msg.Content
	raw, ok := c.Value("data")
	if !ok || raw == nil {
		return nil, errors.New("data is required")
	}
	format := strings.ToLower(c.String("target_format", c.String("format", services.FormatJSON)))

	records := services.ToRecords(plain(raw))
	out, err := a.exporter.Convert(records, format)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"format":       format,
		"record_count": len(records),
		"content":      string(out),
	}, nil
}

func (a *InterfaceManagementAgent) validateData(_ context.Context, msg agent.Message) (map[string]any, error) {
	c := msg.Content
	dataType := c.String("data_type", "students")
	if _, ok := requiredFields[dataType]; !ok {
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
	raw, _ := c.Value("data")
	records := services.ToRecords(plain(raw))
	problems := validateRecords(records, dataType)

	return map[string]any{
		"data_type":    dataType,
		"valid":        len(problems) == 0,
		"errors":       problems,
		"record_count": len(records),
	}, nil
}

func (a *InterfaceManagementAgent) registerSystem(ctx context.Context, msg agent.Message) (map[string]any, error) {
	c := msg.Content
	id := c.String("system_id", "")
	if id == "" {
		return nil, errors.New("system_id is required")
	}

	sys := &ExternalSystem{
		ID:           id,
		Name:         c.String("name", id),
		Type:         c.String("type", "api"),
		Endpoint:     c.String("endpoint", ""),
		Headers:      cast.ToStringMapString(c.Map("authentication")["headers"]),
		Enabled:      cast.ToBool(lo.ValueOr(c.ToMap(), "enabled", true)),
		RegisteredAt: time.Now().UTC(),
	}

	test := map[string]any{"success": true}
	if sys.Type == "api" {
		if sys.Endpoint == "" {
			return nil, errors.New("endpoint is required for api systems")
		}
		status, _, err := a.do(ctx, http.MethodGet, sys.Endpoint, sys.Headers, nil, "")
		if err != nil {
			return nil, fmt.Errorf("connection test failed: %w", err)
		}
		if status/100 != 2 {
			return nil, fmt.Errorf("connection test failed: status %d", status)
		}
		test["status_code"] = status
	}

	a.systems[id] = sys
	a.log.Info().Str("system_id", id).Str("type", sys.Type).Msg("External system registered")

	return map[string]any{
		"system_id":       id,
		"name":            sys.Name,
		"type":            sys.Type,
		"enabled":         sys.Enabled,
		"connection_test": test,
	}, nil
}

func (a *InterfaceManagementAgent) syncWithExternal(ctx context.Context, msg agent.Message) (map[string]any, error) {
	c := msg.Content
	sys, err := a.system(c.String("system_id", ""))
	if err != nil {
		return nil, err
	}
	direction := c.String("sync_type", SyncBidirectional)
	if !lo.Contains([]string{SyncPush, SyncPull, SyncBidirectional}, direction) {
		return nil, fmt.Errorf("unsupported sync_type %q", direction)
	}
	dataTypes := c.Strings("data_types")
	if len(dataTypes) == 0 {
		dataTypes = []string{"students"}
	}

	results := map[string]any{}
	for _, dt := range dataTypes {
		url := strings.TrimRight(sys.Endpoint, "/") + "/" + dt
		if direction != SyncPull {
			results[dt+"_push"] = a.push(ctx, sys, url, dt)
		}
		if direction != SyncPush {
			results[dt+"_pull"] = a.pull(ctx, sys, url)
		}
	}

	return map[string]any{
		"system_id":  sys.ID,
		"sync_type":  direction,
		"data_types": dataTypes,
		"results":    results,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (a *InterfaceManagementAgent) push(ctx context.Context, sys *ExternalSystem, url, dataType string) map[string]any {
	var payload any
	switch dataType {
	case "students":
		students, err := a.data.Students(ctx, nil)
		if err != nil {
			return map[string]any{"success": false, "error": err.Error()}
		}
		payload = students
	case "scores":
		scores, err := a.data.Scores(ctx, database.RecordQuery{})
		if err != nil {
			return map[string]any{"success": false, "error": err.Error()}
		}
		payload = scores
	default:
		return map[string]any{"success": false, "error": fmt.Sprintf("unsupported data type %q", dataType)}
	}

	records, err := structToRecords(payload)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	body, err := a.exporter.Convert(records, services.FormatJSON)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	status, _, err := a.do(ctx, http.MethodPost, url, sys.Headers, body, contentTypes[services.FormatJSON])
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return map[string]any{"success": status/100 == 2, "status_code": status, "record_count": len(records)}
}

func (a *InterfaceManagementAgent) pull(ctx context.Context, sys *ExternalSystem, url string) map[string]any {
	status, body, err := a.do(ctx, http.MethodGet, url, sys.Headers, nil, "")
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	if status/100 != 2 {
		return map[string]any{"success": false, "status_code": status}
	}
	records, err := a.exporter.Parse(body, services.FormatJSON)
	if err != nil {
		return map[string]any{"success": false, "status_code": status, "error": err.Error()}
	}
	return map[string]any{"success": true, "status_code": status, "record_count": len(records)}
}

func (a *InterfaceManagementAgent) system(id string) (*ExternalSystem, error) {
	sys, ok := a.systems[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSystem, id)
	}
	if !sys.Enabled {
		return nil, fmt.Errorf("external system %q is disabled", id)
	}
	return sys, nil
}

func (a *InterfaceManagementAgent) do(ctx context.Context, method, url string, headers map[string]string, body []byte, contentType string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.cfg.MaxResponseBytes+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > a.cfg.MaxResponseBytes {
		return resp.StatusCode, nil, fmt.Errorf("%w: %s returned more than %d bytes", ErrResponseTooLarge, url, a.cfg.MaxResponseBytes)
	}
	return resp.StatusCode, data, nil
}

// importPath resolves name against dir and rejects anything that lands
// outside it. Relative names are taken relative to dir.
func importPath(dir, name string) (string, error) {
	if dir == "" {
		return "", errors.New("file imports are disabled")
	}
	if name == "" {
		return "", errors.New("source path is required")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve import directory: %w", err)
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideImportDir, name)
	}
	return path, nil
}

// mapFields renames source fields to target fields per mapping (target -> source).
func mapFields(records []map[string]any, mapping map[string]string) []map[string]any {
	if len(mapping) == 0 {
		return records
	}
	return lo.Map(records, func(r map[string]any, _ int) map[string]any {
		out := make(map[string]any, len(r))
		for k, v := range r {
			out[k] = v
		}
		for target, source := range mapping {
			if v, ok := r[source]; ok {
				out[target] = v
				if source != target {
					delete(out, source)
				}
			}
		}
		return out
	})
}

func validateRecords(records []map[string]any, dataType string) []string {
	var problems []string
	if len(records) == 0 {
		return []string{"no records"}
	}
	for i, r := range records {
		for _, field := range requiredFields[dataType] {
			if v, ok := r[field]; !ok || cast.ToString(v) == "" {
				problems = append(problems, fmt.Sprintf("record %d: missing %s", i, field))
			}
		}
	}
	return problems
}

// plain turns nested Content values into maps so they can be encoded.
func plain(v any) any {
	switch val := v.(type) {
	case *agent.Content:
		return plain(val.ToMap())
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = plain(inner)
		}
		return out
	case []any:
		return lo.Map(val, func(item any, _ int) any { return plain(item) })
	case []map[string]any:
		return lo.Map(val, func(item map[string]any, _ int) any { return plain(item) })
	default:
		return v
	}
}

func structToRecords(v any) ([]map[string]any, error) {
	wrapped, err := structToMap(map[string]any{"records": v})
	if err != nil {
		return nil, err
	}
	return services.ToRecords(wrapped["records"]), nil
}
