package twitchirc

import (
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// NormalizeToken trims the token and ensures it is prefixed with "oauth:".
func NormalizeToken(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "oauth:") {
		return trimmed
	}
	return "oauth:" + trimmed
}

// FileTokenProvider reads and caches a token from disk, exposing it as a
// TokenProvider func for Config.
type FileTokenProvider struct {
	path string
	mu   sync.Mutex
	tok  string
}

func NewFileTokenProvider(path string) *FileTokenProvider {
	p := &FileTokenProvider{path: path}
	p.reload()
	return p
}

func (p *FileTokenProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tok
}

func (p *FileTokenProvider) reload() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		log.Printf("twitchirc: token file reload failed: %v", err)
		return
	}
	token := NormalizeToken(string(data))
	if token == "" {
		log.Printf("twitchirc: token file %s is empty", p.path)
		return
	}
	p.mu.Lock()
	p.tok = token
	p.mu.Unlock()
}

// WatchTokenFile reloads the token whenever the file changes on disk,
// debounced the way the teacher's harvester.WatchTokenFiles is.
func (p *FileTokenProvider) WatchTokenFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(p.path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						log.Printf("twitchirc: token watch re-add failed: %v", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				p.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("twitchirc: token watch error: %v", err)
			}
		}
	}()
	return nil
}
