package service

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"medilink/internal/audit/domain"
)

// Export formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// RowWriter serializes audit rows for an export.
type RowWriter interface {
	WriteRow(a *domain.AuditLog) error
	Flush() error
	Format() string
	ContentType() string
}

// NewRowWriter returns the writer for format ("csv" or "jsonl").
func NewRowWriter(format string, w io.Writer) (RowWriter, error) {
	switch format {
	case FormatCSV, "":
		return newCSVWriter(w), nil
	case FormatJSONL:
		return &jsonlWriter{enc: json.NewEncoder(w)}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

var csvHeader = []string{"seq", "id", "created_at", "org_id", "user_id", "action", "resource", "resource_id", "ip", "metadata"}

type csvWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

func newCSVWriter(w io.Writer) *csvWriter {
	return &csvWriter{w: csv.NewWriter(w)}
}

func (c *csvWriter) WriteRow(a *domain.AuditLog) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	return c.w.Write([]string{
		strconv.FormatInt(a.Seq, 10), a.ID, a.CreatedAt.UTC().Format(time.RFC3339Nano),
		a.OrgID, a.UserID, a.Action, a.Resource, a.ResourceID, a.IP, a.Metadata,
	})
}

func (c *csvWriter) Flush() error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvWriter) Format() string      { return FormatCSV }
func (c *csvWriter) ContentType() string { return "text/csv; charset=utf-8" }

type jsonlRow struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	OrgID      string          `json:"org_id"`
	UserID     string          `json:"user_id,omitempty"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id,omitempty"`
	IP         string          `json:"ip"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type jsonlWriter struct {
	enc *json.Encoder
}

func (j *jsonlWriter) WriteRow(a *domain.AuditLog) error {
	row := jsonlRow{
		Seq: a.Seq, ID: a.ID, CreatedAt: a.CreatedAt.UTC(), OrgID: a.OrgID, UserID: a.UserID,
		Action: a.Action, Resource: a.Resource, ResourceID: a.ResourceID, IP: a.IP,
	}
	if a.Metadata != "" && json.Valid([]byte(a.Metadata)) {
		row.Metadata = json.RawMessage(a.Metadata)
	}
	return j.enc.Encode(row)
}

func (j *jsonlWriter) Flush() error        { return nil }
func (j *jsonlWriter) Format() string      { return FormatJSONL }
func (j *jsonlWriter) ContentType() string { return "application/x-ndjson" }
