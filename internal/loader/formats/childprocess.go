package formats

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// ChildProcessLoader binds formats whose runtime only exists as a Python
// worker (safetensors, pytorch, hf): a long-lived subprocess is spawned per
// handle and driven over stdin/stdout with newline-delimited JSON, each
// request/response pair correlated by a monotonic requestId. Grounded on
// internal/ml/pytorch_converter.go's exec.CommandContext + JSON stdio usage,
// generalized from one-shot conversion calls to a persistent worker loop.
type ChildProcessLoader struct {
	// PythonPath is the interpreter used to launch the worker, defaulting
	// to "python3" exactly as PyTorchConverter does.
	PythonPath string
	// WorkerScriptFor returns the path to the NDJSON worker entrypoint for
	// the requested format.
	WorkerScriptFor func(format descriptor.Format) string
}

func (l *ChildProcessLoader) Supports(format descriptor.Format) bool {
	switch format {
	case descriptor.FormatSafetensors, descriptor.FormatPyTorch, descriptor.FormatHF:
		return true
	default:
		return false
	}
}

func (l *ChildProcessLoader) Load(ctx context.Context, d descriptor.Descriptor) (loader.Handle, error) {
	python := l.PythonPath
	if python == "" {
		python = "python3"
	}
	script := ""
	if l.WorkerScriptFor != nil {
		script = l.WorkerScriptFor(d.Format)
	}
	if script == "" {
		return nil, routererr.New(routererr.KindValidation, "no worker script configured for format \""+string(d.Format)+"\"")
	}

	cmd := exec.CommandContext(ctx, python, script, "--source", d.Source, "--format", string(d.Format))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, routererr.Wrap(routererr.KindInternal, "open worker stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, routererr.Wrap(routererr.KindInternal, "open worker stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, routererr.Wrap(routererr.KindTransientBackend, "start worker process for \""+d.ID+"\"", err)
	}

	h := &childProcessHandle{
		id:       d.ID,
		cmd:      cmd,
		stdin:    stdin,
		reader:   bufio.NewReader(stdout),
		pending:  make(map[int64]chan workerResponse),
		lastUsed: time.Now(),
	}
	go h.readLoop()
	return h, nil
}

type workerRequest struct {
	RequestID   int64   `json:"request_id"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type workerResponse struct {
	RequestID    int64  `json:"request_id"`
	Text         string `json:"text"`
	Tokens       int    `json:"tokens"`
	Done         bool   `json:"done"`
	Error        string `json:"error,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type childProcessHandle struct {
	mu        sync.Mutex
	id        string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	reader    *bufio.Reader
	nextReqID int64
	pending   map[int64]chan workerResponse
	lastUsed  time.Time
	closed    bool
}

func (h *childProcessHandle) ID() string { return h.id }

func (h *childProcessHandle) readLoop() {
	for {
		line, err := h.reader.ReadBytes('\n')
		if len(line) > 0 {
			var resp workerResponse
			if err := json.Unmarshal(line, &resp); err == nil {
				h.mu.Lock()
				ch, ok := h.pending[resp.RequestID]
				h.mu.Unlock()
				if ok {
					ch <- resp
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (h *childProcessHandle) touch() {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

func (h *childProcessHandle) send(req loader.Request) (chan workerResponse, int64, error) {
	reqID := atomic.AddInt64(&h.nextReqID, 1)
	ch := make(chan workerResponse, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, 0, routererr.New(routererr.KindPermanentBackend, "worker for \""+h.id+"\" is closed")
	}
	h.pending[reqID] = ch
	h.mu.Unlock()

	payload, err := json.Marshal(workerRequest{
		RequestID:   reqID,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, 0, routererr.Wrap(routererr.KindInternal, "marshal worker request", err)
	}
	payload = append(payload, '\n')

	if _, err := h.stdin.Write(payload); err != nil {
		return nil, 0, routererr.Wrap(routererr.KindTransientBackend, "write to worker stdin for \""+h.id+"\"", err)
	}
	return ch, reqID, nil
}

func (h *childProcessHandle) cleanupPending(reqID int64) {
	h.mu.Lock()
	delete(h.pending, reqID)
	h.mu.Unlock()
}

func (h *childProcessHandle) Generate(ctx context.Context, req loader.Request) (loader.Result, error) {
	h.touch()
	ch, reqID, err := h.send(req)
	if err != nil {
		return loader.Result{}, err
	}
	defer h.cleanupPending(reqID)

	select {
	case <-ctx.Done():
		return loader.Result{}, routererr.Wrap(routererr.KindCancelled, "generate cancelled", ctx.Err())
	case resp := <-ch:
		if resp.Error != "" {
			return loader.Result{}, routererr.New(routererr.KindPermanentBackend, resp.Error)
		}
		finish := resp.FinishReason
		if finish == "" {
			finish = "stop"
		}
		return loader.Result{Text: resp.Text, Tokens: resp.Tokens, FinishReason: finish}, nil
	}
}

func (h *childProcessHandle) Stream(ctx context.Context, req loader.Request) (<-chan loader.Chunk, error) {
	h.touch()
	req.Stream = true
	ch, reqID, err := h.send(req)
	if err != nil {
		return nil, err
	}

	out := make(chan loader.Chunk)
	go func() {
		defer close(out)
		defer h.cleanupPending(reqID)
		for {
			select {
			case <-ctx.Done():
				return
			case resp := <-ch:
				if resp.Error != "" {
					return
				}
				chunk := loader.Chunk{Text: resp.Text, Tokens: resp.Tokens, Done: resp.Done}
				select {
				case <-ctx.Done():
					return
				case out <- chunk:
				}
				if resp.Done {
					return
				}
			}
		}
	}()
	return out, nil
}

func (h *childProcessHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	_ = h.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		return fmt.Errorf("worker for %q killed after close timeout: %w", h.id, ctx.Err())
	}
}

func (h *childProcessHandle) LastUsedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}
