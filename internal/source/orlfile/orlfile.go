// Package orlfile walks a directory tree of ORL-formatted chat logs and
// yields normalized messages. Layout: <root>/<channel>/<YYYY-MM-DD>.txt[.gz].
package orlfile

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/you/tl2/internal/event"
	"github.com/you/tl2/internal/orl"
)

// Walk enumerates <root>/<channel>/*.txt[.gz] and sends one normalized
// SimpleMessage per successfully parsed line on out. Unreadable
// directories/files are returned as an error to the caller; individual
// line-parse failures are dropped silently, since ORL files routinely
// contain partial tail writes from a log rotation in progress. Walk closes
// out when done (a single-pass, finite stream).
func Walk(root string, out chan<- event.SimpleMessage) error {
	defer close(out)

	channels, err := channelDirs(root)
	if err != nil {
		return err
	}

	for _, channel := range channels {
		channelDir := filepath.Join(root, channel)
		files, err := logFiles(channelDir)
		if err != nil {
			return err
		}
		for _, file := range files {
			if err := walkFile(channel, file, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// WalkParallel is the large-batch variant: it parses files across a bounded
// worker pool sized off runtime.NumCPU, preserving no particular ordering
// across files (only within a file's own SimpleMessage sequence, from a
// single worker's perspective, is there any ordering at all).
func WalkParallel(root string, out chan<- event.SimpleMessage) error {
	defer close(out)

	channels, err := channelDirs(root)
	if err != nil {
		return err
	}

	type job struct {
		channel string
		path    string
	}
	var jobs []job
	for _, channel := range channels {
		channelDir := filepath.Join(root, channel)
		files, err := logFiles(channelDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			jobs = append(jobs, job{channel: channel, path: f})
		}
	}

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	jobCh := make(chan job)
	errCh := make(chan error, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				if err := walkFile(j.channel, j.path, out); err != nil {
					select {
					case errCh <- err:
					default:
					}
				}
			}
		}()
	}

	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func channelDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("orlfile: read root %s: %w", root, err)
	}
	var channels []string
	for _, e := range entries {
		if e.IsDir() {
			channels = append(channels, e.Name())
		}
	}
	return channels, nil
}

func logFiles(channelDir string) ([]string, error) {
	entries, err := os.ReadDir(channelDir)
	if err != nil {
		return nil, fmt.Errorf("orlfile: read channel dir %s: %w", channelDir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, ".txt.gz") {
			files = append(files, filepath.Join(channelDir, name))
		}
	}
	return files, nil
}

func walkFile(channel, path string, out chan<- event.SimpleMessage) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("orlfile: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("orlfile: gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := orl.ParseMessageLine(line)
		if err != nil {
			continue
		}
		out <- event.Normalize(event.RawMessage{
			Channel:   channel,
			Username:  event.NormalUsername(rec.Username),
			Text:      rec.Text,
			Timestamp: rec.Timestamp,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("orlfile: scan %s: %w", path, err)
	}
	return nil
}
