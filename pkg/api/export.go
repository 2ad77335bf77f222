package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Export formats accepted by the audit-log export endpoint.
var ExportFormats = []string{"csv", "xlsx", "json"}

// Export is a streamed audit-log export. The caller closes Body.
type Export struct {
	Filename    string
	ContentType string
	Body        io.ReadCloser
}

// ExportAuditLogs requests an audit-log export in the given format.
func (c *Client) ExportAuditLogs(ctx context.Context, format string) (*Export, error) {
	if !validFormat(format) {
		return nil, fmt.Errorf("unsupported export format %q (want one of %s)", format, strings.Join(ExportFormats, ", "))
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/audit-logs/export", url.Values{"format": {format}})
	if err != nil {
		return nil, fmt.Errorf("export audit logs: %w", err)
	}
	return &Export{
		Filename:    FilenameFromDisposition(resp.Header.Get("Content-Disposition"), format, time.Now()),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

var (
	dispositionUTF8   = regexp.MustCompile(`(?i)filename\*\s*=\s*UTF-8''([^;\s]+)`)
	dispositionQuoted = regexp.MustCompile(`(?i)filename\s*=\s*"([^"]*)"`)
	dispositionBare   = regexp.MustCompile(`(?i)filename\s*=\s*([^;"]+)`)
)

// FilenameFromDisposition picks the download filename from a
// Content-Disposition header: the UTF-8 filename* parameter first, then
// a quoted or bare filename, then audit_logs_<date>.<format>. Directory
// components are stripped.
func FilenameFromDisposition(header, format string, now time.Time) string {
	if m := dispositionUTF8.FindStringSubmatch(header); m != nil {
		if name, err := url.PathUnescape(m[1]); err == nil {
			if name = sanitizeFilename(name); name != "" {
				return name
			}
		}
	}
	if m := dispositionQuoted.FindStringSubmatch(header); m != nil {
		if name := sanitizeFilename(m[1]); name != "" {
			return name
		}
	}
	if m := dispositionBare.FindStringSubmatch(header); m != nil {
		if name := sanitizeFilename(m[1]); name != "" {
			return name
		}
	}
	return fmt.Sprintf("audit_logs_%s.%s", now.Format("2006-01-02"), format)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

func validFormat(format string) bool {
	for _, f := range ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}
