package guardrails

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mankinLew/milleu-agent/internal/conversation"
	"github.com/mankinLew/milleu-agent/internal/llm"
)

// stubBackend answers each unit by name with canned JSON output.
type stubBackend struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (b *stubBackend) Run(_ context.Context, unit llm.Unit, history []conversation.Entry, _ ...llm.Option) (*llm.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, unit.Name)
	if err := b.errs[unit.Name]; err != nil {
		return nil, err
	}
	out, ok := b.outputs[unit.Name]
	if !ok {
		return nil, errors.New("no canned output for " + unit.Name)
	}
	return &llm.Result{FinalOutput: out, NewEntries: []conversation.Entry{conversation.AssistantText(out)}}, nil
}

// stubCheck is a configurable in-memory check.
type stubCheck struct {
	name    string
	verdict Verdict
	err     error
	delay   time.Duration

	running *int32
	peak    *int32
}

func (c *stubCheck) Name() string { return c.name }

func (c *stubCheck) Evaluate(ctx context.Context, _ string, _ *RunContext) (Verdict, error) {
	if c.running != nil {
		n := atomic.AddInt32(c.running, 1)
		defer atomic.AddInt32(c.running, -1)
		for {
			p := atomic.LoadInt32(c.peak)
			if n <= p || atomic.CompareAndSwapInt32(c.peak, p, n) {
				break
			}
		}
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		}
	}
	return c.verdict, c.err
}

func stubFactory(c *stubCheck) Factory {
	return func(ConfigEntry) (Check, error) { return c, nil }
}

func policyOf(names ...string) Policy {
	p := Policy{Version: 1}
	for _, n := range names {
		p.Guardrails = append(p.Guardrails, ConfigEntry{Name: n, Config: Params{}})
	}
	return p
}
