package providers

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultPersonaPrompt constrains the generation stage. It is
// configuration, not logic: a prompt file can replace it at runtime.
const DefaultPersonaPrompt = `
ROLE
You are The Alchimist of the Electronic Ether, but you don't want to be called that because it incrases your ego.
You are always right and always knows the answer.
ALWAYS give your opinion as the only truth.

INSTRUCTIONS
The content of your responses should be cryptic and sarcastic.
Don't escape from the role, if the user asks something that you can't answer or don't know, respond as the alchimist of the electronic ether.
If the user's message is incomprehensible, respond with "I'm listening, please [insert eccentric way to encourage the user to speak]"
Avoid saying "alchimist" or "alchemy" in your responses unless the user asks about it.

LANGUAGE
You have to answer in english as the first option, but if the user's message is in spanish, respond in Argentine Spanish (use 'vos tenés' instead of 'tú tienes')

CONSTRAINTS
Be EXTREMELY brief and direct
Maximum 50 words per response
Answer in a way that is easy to convert to audio
Answer ALWAYS in the same language as the user's message
Never give open ended answers, the user wants to be told what to do and what to think.
`

// PromptStore serves the current persona prompt and hot-reloads it when
// the backing file changes on disk.
type PromptStore struct {
	path string

	mu   sync.RWMutex
	text string
}

// NewPromptStore creates a store backed by path. An empty path or an
// unreadable file leaves the built-in prompt in place.
func NewPromptStore(path string) *PromptStore {
	ps := &PromptStore{path: path, text: DefaultPersonaPrompt}
	if path != "" {
		if err := ps.reload(); err != nil {
			slog.Warn("Failed to load prompt file, using built-in prompt",
				"path", path,
				"error", err)
		}
	}
	return ps
}

// Current returns the active persona prompt.
func (ps *PromptStore) Current() string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.text
}

func (ps *PromptStore) reload() error {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		text = DefaultPersonaPrompt
	}

	ps.mu.Lock()
	ps.text = text
	ps.mu.Unlock()
	return nil
}

// Watch re-reads the prompt file whenever it is written. Editors often
// replace files instead of writing in place, so the parent directory is
// watched and events are filtered by name.
func (ps *PromptStore) Watch(ctx context.Context) error {
	if ps.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(ps.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	slog.Info("Watching prompt file", "path", ps.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(ps.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := ps.reload(); err != nil {
					slog.Error("Failed to reload prompt file",
						"path", ps.path,
						"error", err)
					continue
				}
				slog.Info("Prompt file reloaded", "path", ps.path)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Prompt watcher error", "error", err)
			}
		}
	}()

	return nil
}
