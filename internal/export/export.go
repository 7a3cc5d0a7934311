// Package export serialises validated proxies to txt, json, csv or yaml.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
	"github.com/JakeFAU/proxy-harvester/internal/storage"
	"github.com/JakeFAU/proxy-harvester/internal/storage/local"
)

// ErrNothingToExport is returned when there are no records to write.
var ErrNothingToExport = errors.New("nothing to export")

// Format names an export encoding.
type Format string

// Supported formats.
const (
	FormatTXT  Format = "txt"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

var csvHeader = []string{"ip", "port", "type", "response_time", "category", "country", "anonymity_level", "last_checked"}

// ParseFormat resolves a case-insensitive format name.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatTXT, FormatJSON, FormatCSV, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q", raw)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatYAML:
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Select returns filtered when it is non-empty, otherwise all.
func Select(filtered, all []proxy.Record) []proxy.Record {
	if len(filtered) > 0 {
		return filtered
	}
	return all
}

// Encode writes recs to w in the given format.
func Encode(w io.Writer, recs []proxy.Record, format Format) error {
	switch format {
	case FormatTXT:
		for _, r := range recs {
			if _, err := io.WriteString(w, r.Key()+"\n"); err != nil {
				return fmt.Errorf("write txt: %w", err)
			}
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if recs == nil {
			recs = []proxy.Record{}
		}
		if err := enc.Encode(recs); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatCSV:
		return encodeCSV(w, recs)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(recs); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func encodeCSV(w io.Writer, recs []proxy.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range recs {
		row := []string{
			r.IP,
			strconv.Itoa(r.Port),
			string(r.Type),
			strconv.FormatInt(r.LatencyMs, 10),
			string(r.Category),
			r.Country,
			string(r.Anonymity),
			r.CheckedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteFile encodes recs and atomically replaces path. Nothing is written
// when recs is empty or encoding fails.
func WriteFile(path string, recs []proxy.Record, format Format) error {
	if len(recs) == 0 {
		return ErrNothingToExport
	}
	var buf bytes.Buffer
	if err := Encode(&buf, recs, format); err != nil {
		return err
	}
	if err := local.WriteAtomic(path, &buf); err != nil {
		return fmt.Errorf("write export %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Exporter writes exports to a blob destination such as a local directory or a GCS bucket.
type Exporter struct {
	blobs storage.BlobStore
	now   func() time.Time
}

// NewExporter returns an Exporter writing to blobs.
func NewExporter(blobs storage.BlobStore) *Exporter {
	return &Exporter{blobs: blobs, now: time.Now}
}

// Export encodes recs and uploads them as proxies-<timestamp>.<format>. It
// returns the destination URI.
func (e *Exporter) Export(ctx context.Context, recs []proxy.Record, format Format) (string, error) {
	if len(recs) == 0 {
		return "", ErrNothingToExport
	}
	var buf bytes.Buffer
	if err := Encode(&buf, recs, format); err != nil {
		return "", err
	}
	name := fmt.Sprintf("proxies-%s.%s", e.now().UTC().Format("20060102T150405Z"), format)
	uri, err := e.blobs.PutObject(ctx, name, format.ContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return uri, nil
}
