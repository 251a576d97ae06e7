package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger = logrus.New()

// Options configures Init.
type Options struct {
	Level string
	// File enables rotated file output next to stderr when set.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Formatter writes one line per entry: time, level, message, then sorted
// key=value fields.
type Formatter struct {
	Source string
}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}
	b.WriteString(entry.Time.UTC().Format("2006-01-02T15:04:05Z"))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(entry.Level.String()))
	if f.Source != "" {
		fmt.Fprintf(b, " [%s]", f.Source)
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Init applies opts to Logger.
func Init(opts Options) error {
	level := logrus.InfoLevel
	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		level = lvl
	}
	Logger.SetLevel(level)
	Logger.SetFormatter(&Formatter{Source: "idptrack"})

	var out io.Writer = os.Stderr
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		})
	}
	Logger.SetOutput(out)
	return nil
}

// Discard silences Logger, for tests.
func Discard() {
	Logger.SetOutput(io.Discard)
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
