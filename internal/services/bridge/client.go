package bridge

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"spikeflow/internal/logging"
	"spikeflow/internal/services"
)

//go:embed bridge.py
var script []byte

const (
	maxEventBytes  = 8 << 20
	stderrTailSize = 20
)

// CommandFunc constructs the subprocess for a bridge call.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Toolkit is the set of external operations the pipeline depends on.
type Toolkit interface {
	ReadProbe(ctx context.Context, path string) (ProbeInfo, error)
	DetectDevice(ctx context.Context) (DeviceInfo, error)
	Run(ctx context.Context, req Request) (Result, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithPython overrides the interpreter used to run the bridge script.
func WithPython(python string) Option {
	return func(c *CLI) {
		if strings.TrimSpace(python) != "" {
			c.python = strings.TrimSpace(python)
		}
	}
}

// WithScriptDir sets the directory the embedded script is installed into.
func WithScriptDir(dir string) Option {
	return func(c *CLI) {
		if strings.TrimSpace(dir) != "" {
			c.scriptDir = dir
		}
	}
}

// WithLogger routes bridge log events to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *CLI) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStageTimeout bounds every call. Zero disables the timeout.
func WithStageTimeout(timeout time.Duration) Option {
	return func(c *CLI) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithCommand replaces the subprocess constructor. Tests use it to run a helper process.
func WithCommand(fn CommandFunc) Option {
	return func(c *CLI) {
		if fn != nil {
			c.command = fn
		}
	}
}

// CLI runs bridge actions through a Python interpreter.
type CLI struct {
	python    string
	scriptDir string
	logger    *slog.Logger
	timeout   time.Duration
	command   CommandFunc
	maxEvent  int

	installOnce sync.Once
	scriptPath  string
	installErr  error
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{
		python:    "python3",
		scriptDir: filepath.Join(os.TempDir(), "spikeflow"),
		logger:    logging.NewNop(),
		command:   exec.CommandContext,
		maxEvent:  maxEventBytes,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// ScriptPath installs the embedded bridge script if needed and returns its location.
// The file name carries a content hash so upgrades never reuse a stale copy.
func (c *CLI) ScriptPath() (string, error) {
	c.installOnce.Do(func() {
		sum := sha256.Sum256(script)
		name := "bridge-" + hex.EncodeToString(sum[:6]) + ".py"
		path := filepath.Join(c.scriptDir, name)
		if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, script) {
			c.scriptPath = path
			return
		}
		if err := os.MkdirAll(c.scriptDir, 0o755); err != nil {
			c.installErr = fmt.Errorf("create bridge directory: %w", err)
			return
		}
		tmp, err := os.CreateTemp(c.scriptDir, name+".*")
		if err != nil {
			c.installErr = fmt.Errorf("install bridge script: %w", err)
			return
		}
		if _, err := tmp.Write(script); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			c.installErr = fmt.Errorf("install bridge script: %w", err)
			return
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			c.installErr = fmt.Errorf("install bridge script: %w", err)
			return
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			c.installErr = fmt.Errorf("install bridge script: %w", err)
			return
		}
		c.scriptPath = path
	})
	return c.scriptPath, c.installErr
}

// ReadProbe asks the toolkit to parse a probe file.
func (c *CLI) ReadProbe(ctx context.Context, path string) (ProbeInfo, error) {
	var info ProbeInfo
	res, err := c.Run(ctx, Request{
		Action: ActionReadProbe,
		Params: map[string]string{"probe_file": path},
	})
	if err != nil {
		return info, err
	}
	if err := res.Decode(&info); err != nil {
		return info, services.Wrap(services.ErrExternalTool, string(ActionReadProbe), "decode result", "unexpected probe payload", err)
	}
	return info, nil
}

// DetectDevice reports whether a CUDA device is visible to the toolkit.
func (c *CLI) DetectDevice(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	res, err := c.Run(ctx, Request{Action: ActionDetectDevice, Params: map[string]string{}})
	if err != nil {
		return info, err
	}
	if err := res.Decode(&info); err != nil {
		return info, services.Wrap(services.ErrExternalTool, string(ActionDetectDevice), "decode result", "unexpected device payload", err)
	}
	return info, nil
}

// Run executes one bridge action and waits for its result.
func (c *CLI) Run(ctx context.Context, req Request) (Result, error) {
	action := string(req.Action)
	if action == "" {
		return Result{}, services.Wrap(services.ErrValidation, "bridge", "run", "action required", nil)
	}
	scriptPath, err := c.ScriptPath()
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, action, "install", "bridge script unavailable", err)
	}

	payload, err := json.Marshal(envelope{RequestID: req.RequestID, Params: req.Params})
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, action, "encode request", "request params not serializable", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return Result{}, services.Wrap(services.ErrInterrupted, action, "run", "cancelled before start", err)
	}

	logger := logging.WithContext(ctx, c.logger)

	cmd := c.command(ctx, c.python, scriptPath, action) //nolint:gosec
	cmd.Stdin = bytes.NewReader(payload)
	stderr := newTailBuffer(stderrTailSize)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, action, "start", "launch "+c.python, err)
	}

	var (
		result    *Result
		failure   *event
		malformed int
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, min(64*1024, c.maxEvent)), c.maxEvent)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			malformed++
			logger.Debug("bridge output", logging.String("line", string(line)))
			continue
		}
		switch ev.Event {
		case "progress":
			if req.Progress != nil {
				req.Progress(ProgressUpdate{Percent: ev.Percent, Message: ev.Message})
			}
			logger.Debug("bridge progress", logging.Float64("percent", ev.Percent), logging.String("detail", ev.Message))
		case "log":
			logBridgeLine(logger, ev)
		case "result":
			data := append(json.RawMessage(nil), ev.Data...)
			result = &Result{Data: data}
		case "error":
			e := ev
			failure = &e
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Keep the child from blocking on a full pipe before Wait closes it.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Result{}, services.Wrap(services.ErrExternalTool, action, "run", "stage timed out", ctxErr)
		}
		return Result{}, services.Wrap(services.ErrInterrupted, action, "run", "cancelled", ctxErr)
	}
	if failure != nil {
		message := strings.TrimSpace(failure.Message)
		if message == "" {
			message = "bridge reported an error"
		}
		return Result{}, services.Wrap(services.MarkerForKind(failure.Kind), action, "run", message, nil)
	}
	if waitErr != nil {
		detail := "bridge exited with error"
		if tail := stderr.String(); tail != "" {
			detail += ": " + tail
		}
		return Result{}, services.Wrap(services.ErrExternalTool, action, "run", detail, waitErr)
	}
	if scanErr != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, action, "read output", "bridge output unreadable", scanErr)
	}
	if result == nil {
		return Result{}, services.Wrap(services.ErrExternalTool, action, "run",
			fmt.Sprintf("bridge produced no result (%d unparsed lines)", malformed), nil)
	}
	return *result, nil
}

func logBridgeLine(logger *slog.Logger, ev event) {
	msg := strings.TrimSpace(ev.Message)
	if msg == "" {
		return
	}
	switch strings.ToLower(ev.Level) {
	case "warning", "warn":
		logging.WarnWithContext(logger, msg, "bridge_warning",
			logging.String(logging.FieldImpact, "toolkit reported a warning; results may need review"))
	case "error":
		logger.Error(msg, logging.String(logging.FieldEventType, "bridge_error"))
	case "debug":
		logger.Debug(msg)
	default:
		logger.Info(msg)
	}
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	partial []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data := append(t.partial, p...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		t.push(string(data[:idx]))
		data = data[idx+1:]
	}
	t.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

// String returns the retained lines joined with " | ".
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := append([]string(nil), t.lines...)
	if rest := strings.TrimSpace(string(t.partial)); rest != "" {
		lines = append(lines, rest)
	}
	if len(lines) > t.limit {
		lines = lines[len(lines)-t.limit:]
	}
	return strings.Join(lines, " | ")
}

var _ Toolkit = (*CLI)(nil)
