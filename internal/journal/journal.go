package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var deviceNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const dayLayout = "2006-01-02"

// entry is one journal line. The payload is stored verbatim.
type entry struct {
	At   string `json:"at"`
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

type sink struct {
	day    string
	file   *os.File
	stream *snappy.Writer
}

func (s *sink) write(line []byte) error {
	if s.stream != nil {
		if _, err := s.stream.Write(line); err != nil {
			return err
		}
		return s.stream.Flush()
	}
	_, err := s.file.Write(line)
	return err
}

func (s *sink) close() error {
	var firstErr error
	if s.stream != nil {
		firstErr = s.stream.Close()
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Writer appends JSON lines to one file per device per calendar day. Appends
// are best effort: callers log the returned error and move on.
type Writer struct {
	mu       sync.Mutex
	dir      string
	compress bool
	now      func() time.Time
	sinks    map[string]*sink
}

// NewWriter prepares the journal root directory.
func NewWriter(dir string, compress bool, clock func() time.Time) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("journal directory must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{dir: dir, compress: compress, now: clock, sinks: make(map[string]*sink)}, nil
}

// Append writes one line for deviceID to the current day file, rolling the
// sink when the UTC day has changed since the last append.
func (w *Writer) Append(deviceID, kind string, payload any) error {
	if w == nil {
		return fmt.Errorf("journal writer is nil")
	}
	device := deviceNameCleaner.ReplaceAllString(deviceID, "")
	if device == "" {
		device = "unknown"
	}

	now := w.now().UTC()
	line, err := json.Marshal(entry{At: now.Format(time.RFC3339Nano), Kind: kind, Data: payload})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	sink, err := w.sinkLocked(device, now.Format(dayLayout))
	if err != nil {
		return err
	}
	return sink.write(line)
}

func (w *Writer) sinkLocked(device, day string) (*sink, error) {
	current, ok := w.sinks[device]
	if ok && current.day == day {
		return current, nil
	}
	if ok {
		//1.- The UTC day rolled over, so close yesterday's sink before opening a new one.
		_ = current.close()
		delete(w.sinks, device)
	}

	deviceDir := filepath.Join(w.dir, device)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		return nil, err
	}
	name := day + ".jsonl"
	if w.compress {
		name += ".sz"
	}
	file, err := os.OpenFile(filepath.Join(deviceDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	opened := &sink{day: day, file: file}
	if w.compress {
		opened.stream = snappy.NewBufferedWriter(file)
	}
	w.sinks[device] = opened
	return opened, nil
}

// Close flushes and closes every open sink.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for device, current := range w.sinks {
		if err := current.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.sinks, device)
	}
	return firstErr
}

// ArchiveClosed zstd-compresses day files from previous UTC days and removes
// the originals. The current day's files stay untouched.
func (w *Writer) ArchiveClosed() (int, error) {
	if w == nil {
		return 0, nil
	}
	today := w.now().UTC().Format(dayLayout)

	w.mu.Lock()
	//1.- Release sinks for past days so their files can be compressed safely.
	for device, current := range w.sinks {
		if current.day != today {
			_ = current.close()
			delete(w.sinks, device)
		}
	}
	dir := w.dir
	w.mu.Unlock()

	archived := 0
	var firstErr error
	deviceDirs, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, deviceDir := range deviceDirs {
		if !deviceDir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, deviceDir.Name()))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, file := range files {
			name := file.Name()
			if strings.HasSuffix(name, ".zst") || len(name) < len(dayLayout) {
				continue
			}
			day := name[:len(dayLayout)]
			if _, err := time.Parse(dayLayout, day); err != nil || day >= today {
				continue
			}
			path := filepath.Join(dir, deviceDir.Name(), name)
			if err := compressFile(path, path+".zst"); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			_ = os.Remove(path)
			archived++
		}
	}
	return archived, firstErr
}

// SweepOlderThan removes archived day files whose day is before the cutoff.
func (w *Writer) SweepOlderThan(maxAge time.Duration) (int, error) {
	if w == nil || maxAge <= 0 {
		return 0, nil
	}
	cutoff := w.now().UTC().Add(-maxAge).Format(dayLayout)

	removed := 0
	var firstErr error
	deviceDirs, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	for _, deviceDir := range deviceDirs {
		if !deviceDir.IsDir() {
			continue
		}
		dirPath := filepath.Join(w.dir, deviceDir.Name())
		files, err := os.ReadDir(dirPath)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		remaining := 0
		for _, file := range files {
			name := file.Name()
			if len(name) < len(dayLayout) {
				remaining++
				continue
			}
			day := name[:len(dayLayout)]
			if _, err := time.Parse(dayLayout, day); err != nil || day >= cutoff {
				remaining++
				continue
			}
			if err := os.Remove(filepath.Join(dirPath, name)); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				remaining++
				continue
			}
			removed++
		}
		if remaining == 0 {
			_ = os.Remove(dirPath)
		}
	}
	return removed, firstErr
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	encoder, err := zstd.NewWriter(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(encoder, in); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}
