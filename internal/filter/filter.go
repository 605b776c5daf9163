// Package filter implements the title keyword denylist.
package filter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// wordClass matches characters that make up a word; keywords only match
// where they are not adjacent to one.
const wordClass = `\p{L}\p{N}_`

type rule struct {
	keyword string
	re      *regexp.Regexp
}

// Denylist rejects job titles containing any configured keyword as a whole
// word. It is safe for concurrent use and can be reloaded while in use.
type Denylist struct {
	path   string
	logger *zap.Logger
	rules  atomic.Pointer[[]rule]
}

// New builds a denylist from in-memory keywords.
func New(keywords []string) *Denylist {
	d := &Denylist{logger: zap.NewNop()}
	d.set(compile(keywords))
	return d
}

// Load reads keywords from path. A missing file yields an empty denylist.
func Load(path string, logger *zap.Logger) (*Denylist, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Denylist{path: path, logger: logger.Named("filter")}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Parse extracts keywords from a denylist document: one keyword per line,
// lowercased and trimmed; blank lines and lines starting with '#' are
// skipped and trailing "# comments" are stripped.
func Parse(r io.Reader) ([]string, error) {
	var keywords []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line != "" {
			keywords = append(keywords, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan denylist: %w", err)
	}
	return keywords, nil
}

// Reload re-reads the backing file. Denylists built with New have no file
// and reload to themselves.
func (d *Denylist) Reload() error {
	if d.path == "" {
		return nil
	}
	f, err := os.Open(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		d.logger.Info("denylist file missing, keeping every title", zap.String("path", d.path))
		d.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open denylist: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	keywords, err := Parse(f)
	if err != nil {
		return err
	}
	d.set(compile(keywords))
	d.logger.Info("denylist loaded", zap.String("path", d.path), zap.Int("keywords", len(keywords)))
	return nil
}

// Keep reports whether title passes the denylist.
func (d *Denylist) Keep(title string) bool {
	_, hit := d.Match(title)
	return !hit
}

// Match returns the first keyword found in title.
func (d *Denylist) Match(title string) (string, bool) {
	rules := d.rules.Load()
	if rules == nil {
		return "", false
	}
	for _, r := range *rules {
		if r.re.MatchString(title) {
			return r.keyword, true
		}
	}
	return "", false
}

// Len returns the number of active keywords.
func (d *Denylist) Len() int {
	rules := d.rules.Load()
	if rules == nil {
		return 0
	}
	return len(*rules)
}

// Watch reloads the denylist whenever its file changes until ctx is done.
func (d *Denylist) Watch(ctx context.Context) error {
	if d.path == "" {
		return errors.New("denylist has no backing file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch denylist dir: %w", err)
	}
	go func() {
		defer func() {
			_ = watcher.Close()
		}()
		target := filepath.Clean(d.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := d.Reload(); err != nil {
					d.logger.Warn("denylist reload failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("denylist watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (d *Denylist) set(rules []rule) {
	d.rules.Store(&rules)
}

func compile(keywords []string) []rule {
	seen := make(map[string]struct{}, len(keywords))
	rules := make([]rule, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		pattern := `(?i)(^|[^` + wordClass + `])` + regexp.QuoteMeta(kw) + `($|[^` + wordClass + `])`
		rules = append(rules, rule{keyword: kw, re: regexp.MustCompile(pattern)})
	}
	return rules
}
