// Package jsonlfile walks a directory tree of UnifiedMessageLog JSON-lines
// files and yields normalized messages. Layout:
// <root>/<channel>/*.jsonl[.gz|.zst|.br]. Decompression is selected by
// file extension.
package jsonlfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/you/tl2/internal/event"
	"github.com/you/tl2/internal/unified"
)

// Walk enumerates <root>/<channel>/*.jsonl[.gz|.zst|.br] and sends one
// SimpleMessage per successfully decoded line on out. Lines that fail to
// decode are dropped, mirroring OrlFileSource's best-effort tail-write
// tolerance. Walk closes out when done.
func Walk(root string, out chan<- event.SimpleMessage) error {
	defer close(out)

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("jsonlfile: read root %s: %w", root, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		channelDir := filepath.Join(root, e.Name())
		files, err := jsonlFiles(channelDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := walkFile(f, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func jsonlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("jsonlfile: read channel dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.Contains(name, ".jsonl") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	return files, nil
}

func walkFile(path string, out chan<- event.SimpleMessage) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("jsonlfile: open %s: %w", path, err)
	}
	defer f.Close()

	r, closer, err := decompressingReader(path, f)
	if err != nil {
		return fmt.Errorf("jsonlfile: decompress %s: %w", path, err)
	}
	if closer != nil {
		defer closer()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := unified.Decode(line)
		if err != nil {
			continue
		}
		out <- rec.SimpleMessage()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("jsonlfile: scan %s: %w", path, err)
	}
	return nil
}

// decompressingReader picks a decoder by extension. The returned closer, if
// non-nil, must be called to release decoder resources (zstd in
// particular).
func decompressingReader(path string, f io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(path, ".br"):
		return brotli.NewReader(f), nil, nil
	default:
		return f, nil, nil
	}
}
