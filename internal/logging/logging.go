// Package logging configures the updater's log sink.
//
// Every line is prefixed with a bracketed local timestamp. The file sink is
// append-only; by default each write opens, appends and closes the file, so
// the poller and the installer can write concurrently without sharing a
// handle.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimestampFormat is the layout used inside the bracketed line prefix.
const TimestampFormat = "2006-01-02 15:04:05"

// Options controls Init.
type Options struct {
	Level string
	// Path of the log file. Empty or "console" disables the file sink.
	Path string
	// MaxSizeMB > 0 switches the file sink to a rotating lumberjack logger.
	MaxSizeMB  int
	MaxBackups int
	// Console receives a copy of every line. Nil means stderr; use
	// io.Discard to silence it.
	Console io.Writer
}

// Init parses the level and installs the formatter and outputs on the
// standard logrus logger.
func Init(opts Options) error {
	return Configure(log.StandardLogger(), opts)
}

// Configure applies opts to the given logger.
func Configure(logger *log.Logger, opts Options) error {
	levelName := opts.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("failed parsing log-level %s: %w", levelName, err)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	out := console
	if opts.Path != "" && opts.Path != "console" {
		out = io.MultiWriter(console, fileSink(opts))
	}

	logger.SetOutput(out)
	logger.SetFormatter(&BracketFormatter{})
	logger.SetLevel(level)
	return nil
}

func fileSink(opts Options) io.Writer {
	if opts.MaxSizeMB > 0 {
		backups := opts.MaxBackups
		if backups <= 0 {
			backups = 3
		}
		return &lumberjack.Logger{
			Filename:   filepath.ToSlash(opts.Path),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: backups,
			MaxAge:     30, // days
		}
	}
	return NewAppendWriter(opts.Path)
}

// Component returns an entry tagged with the component name. Packages take
// one of these in their constructors.
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}

// BracketFormatter renders "[2006-01-02 15:04:05] message key=value".
type BracketFormatter struct{}

// Format implements logrus.Formatter.
func (f *BracketFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('[')
	b.WriteString(entry.Time.Local().Format(TimestampFormat))
	b.WriteString("] ")
	if entry.Level <= log.WarnLevel {
		b.WriteString(strings.ToUpper(entry.Level.String()))
		b.WriteByte(' ')
	}
	b.WriteString(strings.TrimRight(entry.Message, "\n"))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "component" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	if c, ok := entry.Data["component"]; ok {
		fmt.Fprintf(&b, " component=%v", c)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// AppendWriter appends each Write to a file it opens and closes every time.
type AppendWriter struct {
	path string
}

// NewAppendWriter creates an append-only writer for path.
func NewAppendWriter(path string) *AppendWriter {
	return &AppendWriter{path: path}
}

// Write implements io.Writer.
func (w *AppendWriter) Write(p []byte) (int, error) {
	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(p)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Path returns the file the writer appends to.
func (w *AppendWriter) Path() string {
	return w.path
}
