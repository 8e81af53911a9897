package monitor

import (
	"bytes"
	"os"
	"strings"

	"bookrec/pkg/domain"
)

// MaxTailLines caps how much of the log file any caller may request.
const MaxTailLines = 500

// TailLines returns the last n lines of the file. A missing file yields no
// lines and no error so callers degrade to an empty log view.
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pos := info.Size()

	const blockSize = 1024
	var data []byte
	var lines [][]byte
	for pos > 0 && len(lines) <= n {
		readSize := int64(blockSize)
		if pos < readSize {
			readSize = pos
		}
		pos -= readSize
		buf := make([]byte, readSize)
		if _, err := f.ReadAt(buf, pos); err != nil {
			return nil, err
		}
		data = append(buf, data...)
		lines = bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, string(line))
	}
	return out, nil
}

// ParseLogLine splits a "timestamp | LEVEL | message" line. Lines that do
// not match the format are kept verbatim as INFO messages.
func ParseLogLine(line string) (domain.LogEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.LogEntry{}, false
	}
	parts := strings.SplitN(line, "|", 3)
	if len(parts) == 3 {
		return domain.LogEntry{
			Timestamp: strings.TrimSpace(parts[0]),
			Level:     strings.TrimSpace(parts[1]),
			Message:   strings.TrimSpace(parts[2]),
		}, true
	}
	return domain.LogEntry{Level: "INFO", Message: line}, true
}

// ReadRecentLogs returns up to n parsed entries from the end of the log
// file, newest first.
func ReadRecentLogs(path string, n int) ([]domain.LogEntry, error) {
	if n > MaxTailLines {
		n = MaxTailLines
	}
	raw, err := TailLines(path, n)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LogEntry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		if entry, ok := ParseLogLine(raw[i]); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
