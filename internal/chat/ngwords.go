package chat

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// LoadNGWordsFile reads a filter list, one word per line. Blank lines and
// lines starting with '#' are skipped.
func LoadNGWordsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open ng words file")
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read ng words file")
	}
	return words, nil
}

// WatchNGWordsFile reloads the queue's filter whenever the file changes.
// Events are debounced because editors often emit several writes per save.
// The watcher stops when stop is closed.
func (q *CommentQueue) WatchNGWordsFile(path string, stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return errors.Wrapf(err, "watch %s", path)
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
						q.logger.Warn().Err(err).Str("path", ev.Name).Msg("Watch re-add failed")
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
				words, err := LoadNGWordsFile(path)
				if err != nil {
					q.logger.Warn().Err(err).Msg("NG word reload failed")
					continue
				}
				q.SetNGWords(words)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				q.logger.Warn().Err(err).Msg("Watch error")
			case <-stop:
				return
			}
		}
	}()
	return nil
}
