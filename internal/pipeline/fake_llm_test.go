package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/snarg/voxdoc/internal/llm"
)

const testTimeout = 2 * time.Second

// fakeLLM replays canned replies keyed by a substring of the prompt, or a
// fixed error for every call.
type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]string // prompt substring -> reply
	err     error
	calls   []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	for key, reply := range f.replies {
		if strings.Contains(prompt, key) {
			return reply, nil
		}
	}
	return "", llm.ErrServiceUnavailable
}

func (f *fakeLLM) Model() string { return "fake" }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
