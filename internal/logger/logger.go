package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/mbe-dash/internal/mbe"
)

// Logger records timestamped decoded values to CSV files with automatic
// rotation. One column per followed variable, in follow order.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	columns  []string
	index    map[string]int

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~2.7 hrs at 10 Hz)
)

// New creates a new Logger writing the given variable columns.
func New(cfg Config, columns []string) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/mbe-dash"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 100 * time.Millisecond // Default 10 Hz
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i + 1
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		columns:  append([]string(nil), columns...),
		index:    index,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes a row if the minimum interval has elapsed since the last one.
// Values for names outside the column set are ignored.
func (l *Logger) Record(ts time.Time, vals []mbe.DecodedValue) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || len(vals) == 0 {
		return
	}
	if ts.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = ts

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(ts); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(l.buildRow(ts, vals)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("mbe_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	header := append([]string{"timestamp"}, l.columns...)
	if err := l.writer.Write(header); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *Logger) buildRow(ts time.Time, vals []mbe.DecodedValue) []string {
	row := make([]string, len(l.columns)+1)
	row[0] = ts.Format(time.RFC3339Nano)
	for _, v := range vals {
		if i, ok := l.index[v.Name]; ok {
			row[i] = strconv.FormatFloat(v.Value, 'f', -1, 64)
		}
	}
	return row
}
