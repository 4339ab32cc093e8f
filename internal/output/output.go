// Package output renders command results as text, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// TextRenderer is implemented by results with a human-readable form.
type TextRenderer interface {
	RenderText(w io.Writer) error
}

// Writer handles output in the specified format.
type Writer struct {
	format Format
	w      io.Writer
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{format: format, w: w}
}

// Format returns the writer's format.
func (w *Writer) Format() Format {
	return w.format
}

// IsText reports whether the writer produces human-readable text.
func (w *Writer) IsText() bool {
	return w.format == FormatText || w.format == ""
}

// Write outputs v in the configured format. In text mode v is rendered
// through TextRenderer, then fmt.Stringer, then %+v.
func (w *Writer) Write(v interface{}) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		switch t := v.(type) {
		case TextRenderer:
			return t.RenderText(w.w)
		case fmt.Stringer:
			_, err := fmt.Fprintln(w.w, t.String())
			return err
		}
		_, err := fmt.Fprintf(w.w, "%+v\n", v)
		return err
	}
}

// Textf writes a line only in text mode. Structured formats stay clean so
// their output can be piped into other tools.
func (w *Writer) Textf(format string, args ...interface{}) {
	if !w.IsText() {
		return
	}
	_, _ = fmt.Fprintf(w.w, format+"\n", args...)
}

// ParseFormat parses a format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}
