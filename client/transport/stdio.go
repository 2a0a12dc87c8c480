package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/patvice/ruby-llm-mcp-sub002/config"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"go.uber.org/zap"
)

const (
	// maxLineBytes caps a single newline-delimited frame from the child.
	maxLineBytes = 1 << 20
	// shutdownGrace is how long Close waits for the child to exit after
	// stdin is closed before killing it.
	shutdownGrace = 1 * time.Second
)

var errTransportClosed = errors.New("transport is closed")

// Stdio talks to an MCP server running as a child process. Envelopes are
// newline-delimited JSON on the child's stdin/stdout; stderr is drained
// into the debug log. A child that dies is respawned on the next send and
// the engine-registered restart hook replays the initialize handshake.
type Stdio struct {
	command string
	args    []string
	env     map[string]string
	logger  *zap.Logger
	limiter *slidingWindow

	messages chan *shared.Message
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	writeMu   sync.Mutex // serializes frame writes to stdin
	restartMu sync.Mutex // serializes respawn attempts

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       *lockedWriter
	procDone    chan struct{}
	generation  int
	started     bool
	closed      bool
	restarting  bool
	restartHook func(ctx context.Context) error
	exitHook    func(err error)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

func (lw *lockedWriter) Close() error { return lw.w.Close() }

// NewStdio builds a stdio transport from the definition. The child is not
// spawned until Start.
func NewStdio(def config.Definition, logger *zap.Logger) *Stdio {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stdio{
		command:  def.Command,
		args:     append([]string(nil), def.Args...),
		env:      def.Env,
		logger:   logger.With(zap.String("transport", "stdio"), zap.String("command", def.Command)),
		limiter:  newSlidingWindow(rateLimitOf(def)),
		messages: make(chan *shared.Message, messageBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func rateLimitOf(def config.Definition) (int, time.Duration) {
	if def.RateLimit == nil {
		return 0, 0
	}
	return def.RateLimit.Limit, def.RateLimit.Interval
}

// OnRestart registers the engine hook invoked after a respawn. The hook
// fails the previous generation's in-flight calls and replays initialize
// through the new child before any queued send proceeds.
func (t *Stdio) OnRestart(hook func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restartHook = hook
}

// OnExit registers a hook invoked when the child dies outside of Close.
func (t *Stdio) OnExit(hook func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exitHook = hook
}

func (t *Stdio) Messages() <-chan *shared.Message { return t.messages }

// SetProtocolVersion is a no-op for stdio; the version travels inside the
// initialize envelope only.
func (t *Stdio) SetProtocolVersion(string) {}

func (t *Stdio) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return shared.NewTransportError("stdio start", errTransportClosed)
	}
	if t.started {
		return nil
	}
	if t.command == "" {
		return &shared.ConfigurationError{Field: "command", Reason: "stdio transport needs a command"}
	}
	if err := t.spawnLocked(); err != nil {
		return err
	}
	t.started = true
	return nil
}

// spawnLocked starts a child process and its pump goroutines. Callers hold
// t.mu.
func (t *Stdio) spawnLocked() error {
	cmd := exec.Command(t.command, t.args...)
	cmd.Env = t.environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return shared.NewTransportError("stdio spawn", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return shared.NewTransportError("stdio spawn", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return shared.NewTransportError("stdio spawn", err)
	}
	if err := cmd.Start(); err != nil {
		return shared.NewTransportError("stdio spawn", err)
	}

	t.generation++
	gen := t.generation
	done := make(chan struct{})
	t.cmd = cmd
	t.stdin = &lockedWriter{w: stdin}
	t.procDone = done

	logger := t.logger.With(zap.Int("pid", cmd.Process.Pid), zap.Int("generation", gen))
	logger.Debug("Spawned MCP server process")

	t.wg.Add(3)
	go t.readLoop(stdout, logger)
	go t.drainStderr(stderr, logger)
	go t.monitor(cmd, gen, done, logger)
	return nil
}

func (t *Stdio) environ() []string {
	env := os.Environ()
	if len(t.env) == 0 {
		return env
	}
	keys := make([]string, 0, len(t.env))
	for k := range t.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+t.env[k])
	}
	return env
}

func (t *Stdio) readLoop(stdout io.Reader, logger *zap.Logger) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msgs, err := shared.ParseMessages(line)
		if err != nil {
			logger.Warn("Discarding unparseable frame from child", zap.Error(err))
			continue
		}
		for _, msg := range msgs {
			t.deliver(msg)
		}
	}
	if err := scanner.Err(); err != nil && t.ctx.Err() == nil {
		logger.Debug("Child stdout closed", zap.Error(err))
	}
}

func (t *Stdio) drainStderr(stderr io.Reader, logger *zap.Logger) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			logger.Debug("Server stderr", zap.String("line", line))
		}
	}
}

// monitor reaps the child and reports unexpected deaths so the engine can
// fail the calls that will never be answered.
func (t *Stdio) monitor(cmd *exec.Cmd, gen int, done chan struct{}, logger *zap.Logger) {
	defer t.wg.Done()
	err := cmd.Wait()
	close(done)

	t.mu.Lock()
	current := t.generation == gen && !t.closed
	if current {
		t.stdin = nil
	}
	hook := t.exitHook
	t.mu.Unlock()

	if !current {
		return
	}
	logger.Warn("MCP server process exited unexpectedly", zap.Error(err))
	if hook != nil {
		if err == nil {
			err = errors.New("process exited")
		}
		hook(shared.NewTransportError("stdio", err))
	}
}

func (t *Stdio) deliver(msg *shared.Message) {
	select {
	case t.messages <- msg:
	case <-t.ctx.Done():
	}
}

func (t *Stdio) Send(ctx context.Context, msg *shared.Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return shared.NewTransportError("stdio send", errTransportClosed)
	}
	if !t.started {
		t.mu.Unlock()
		return shared.NewTransportError("stdio send", errors.New("transport not started"))
	}
	gen := t.generation
	stdin := t.stdin
	inRestart := t.restarting
	t.mu.Unlock()

	var writeErr error
	if stdin != nil {
		if _, writeErr = stdin.Write(data); writeErr == nil {
			return nil
		}
	} else {
		writeErr = errors.New("process not running")
	}

	// The initialize replay rides through Send while the restart is in
	// progress; failing it must not recurse into another restart.
	if inRestart {
		return shared.NewTransportError("stdio send", writeErr)
	}

	if err := t.restart(ctx, gen, writeErr); err != nil {
		return err
	}

	t.mu.Lock()
	stdin = t.stdin
	t.mu.Unlock()
	if stdin == nil {
		return shared.NewTransportError("stdio send", errors.New("process not running after restart"))
	}
	if _, err := stdin.Write(data); err != nil {
		return shared.NewTransportError("stdio send", err)
	}
	return nil
}

// restart respawns the child once and replays the handshake through the
// engine hook. Concurrent senders that hit the same dead generation wait
// here and then retry against the fresh child.
func (t *Stdio) restart(ctx context.Context, oldGen int, cause error) error {
	t.restartMu.Lock()
	defer t.restartMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return shared.NewTransportError("stdio send", errTransportClosed)
	}
	if t.generation != oldGen {
		// Another sender already recovered this generation.
		t.mu.Unlock()
		return nil
	}
	t.logger.Warn("Restarting MCP server process", zap.Error(cause))
	t.stopLocked()
	if err := t.spawnLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	hook := t.restartHook
	t.restarting = true
	t.mu.Unlock()

	var hookErr error
	if hook != nil {
		hookErr = hook(ctx)
	}

	t.mu.Lock()
	t.restarting = false
	t.mu.Unlock()

	if hookErr != nil {
		return shared.NewTransportError("stdio restart", fmt.Errorf("replay initialize: %w", hookErr))
	}
	return nil
}

// stopLocked tears down the current child, if any. Callers hold t.mu.
func (t *Stdio) stopLocked() {
	if t.stdin != nil {
		_ = t.stdin.Close()
		t.stdin = nil
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	t.cmd = nil
}

// Close shuts the child down cooperatively: stdin is closed so the server
// can exit on its own, and the process is killed if it lingers past the
// grace period.
func (t *Stdio) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cmd := t.cmd
	stdin := t.stdin
	done := t.procDone
	t.mu.Unlock()

	t.cancel()
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && done != nil {
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			t.logger.Warn("MCP server process did not exit, killing it")
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-done
		}
	}
	t.wg.Wait()
	close(t.messages)
	t.logger.Debug("Stdio transport closed")
	return nil
}

var _ Transport = (*Stdio)(nil)
var _ Restartable = (*Stdio)(nil)
