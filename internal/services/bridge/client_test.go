package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spikeflow/internal/services"
)

func helperCommand(t *testing.T, mode string, captured *[]string) CommandFunc {
	t.Helper()
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append([]string{name}, args...)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "BRIDGE_HELPER_MODE="+mode)
		return cmd
	}
}

func newTestCLI(t *testing.T, mode string, captured *[]string) *CLI {
	t.Helper()
	return NewCLI(
		WithPython("/opt/si/bin/python"),
		WithScriptDir(t.TempDir()),
		WithCommand(helperCommand(t, mode, captured)),
	)
}

func TestRunDecodesResultAndProgress(t *testing.T) {
	var captured []string
	cli := newTestCLI(t, "success", &captured)

	var updates []ProgressUpdate
	res, err := cli.Run(context.Background(), Request{
		Action:   ActionSort,
		Params:   SortParams{Sorter: "kilosort4"},
		Progress: func(u ProgressUpdate) { updates = append(updates, u) },
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	var out SortResult
	if err := res.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.NumUnits != 7 {
		t.Fatalf("expected 7 units, got %d", out.NumUnits)
	}
	if len(updates) != 1 || updates[0].Percent != 50 {
		t.Fatalf("unexpected progress updates: %+v", updates)
	}
	if len(captured) != 3 || captured[0] != "/opt/si/bin/python" || captured[2] != "sort" {
		t.Fatalf("unexpected command: %v", captured)
	}
	if !strings.HasPrefix(filepath.Base(captured[1]), "bridge-") {
		t.Fatalf("expected installed script path, got %q", captured[1])
	}
}

func TestRunMapsErrorKinds(t *testing.T) {
	tests := []struct {
		mode   string
		marker error
	}{
		{"no_units", services.ErrNoUnits},
		{"probe_error", services.ErrConfiguration},
		{"tool_error", services.ErrExternalTool},
		{"crash", services.ErrExternalTool},
		{"no_result", services.ErrExternalTool},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cli := newTestCLI(t, tt.mode, nil)
			_, err := cli.Run(context.Background(), Request{Action: ActionExtractWaveforms, Params: WaveformParams{}})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v marker, got %v", tt.marker, err)
			}
		})
	}
}

func TestRunCrashIncludesStderrTail(t *testing.T) {
	cli := newTestCLI(t, "crash", nil)
	_, err := cli.Run(context.Background(), Request{Action: ActionPreprocess, Params: PreprocessParams{}})
	if err == nil || !strings.Contains(err.Error(), "Traceback: boom") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestRunCancelledContextIsInterrupted(t *testing.T) {
	cli := newTestCLI(t, "success", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cli.Run(ctx, Request{Action: ActionSort, Params: SortParams{}})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) || services.KindOf(err) != services.KindInterrupted {
		t.Fatalf("expected interrupted classification, got %v (%s)", err, services.KindOf(err))
	}
}

func TestRunRequiresAction(t *testing.T) {
	cli := newTestCLI(t, "success", nil)
	if _, err := cli.Run(context.Background(), Request{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReadProbeAndDetectDevice(t *testing.T) {
	cli := newTestCLI(t, "probe", nil)
	info, err := cli.ReadProbe(context.Background(), "/probes/linear.prb")
	if err != nil {
		t.Fatalf("ReadProbe: %v", err)
	}
	if len(info.Contacts) != 2 || info.Contacts[1].Y != 20 {
		t.Fatalf("unexpected probe info: %+v", info)
	}

	cli = newTestCLI(t, "device", nil)
	dev, err := cli.DetectDevice(context.Background())
	if err != nil {
		t.Fatalf("DetectDevice: %v", err)
	}
	if !dev.CUDA {
		t.Fatalf("expected cuda device, got %+v", dev)
	}
}

func TestScriptPathInstallsOnce(t *testing.T) {
	dir := t.TempDir()
	cli := NewCLI(WithScriptDir(dir))
	first, err := cli.ScriptPath()
	if err != nil {
		t.Fatalf("ScriptPath: %v", err)
	}
	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read installed script: %v", err)
	}
	if string(data) != string(script) {
		t.Fatal("installed script differs from embedded copy")
	}
	second, err := NewCLI(WithScriptDir(dir)).ScriptPath()
	if err != nil || second != first {
		t.Fatalf("expected stable script path, got %q (%v)", second, err)
	}
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	buf := newTailBuffer(2)
	fmt.Fprint(buf, "one\ntwo\nthr")
	fmt.Fprint(buf, "ee\nfour")
	if got := buf.String(); got != "three | four" {
		t.Fatalf("unexpected tail: %q", got)
	}
}

func TestTailBufferWithoutPartialLine(t *testing.T) {
	buf := newTailBuffer(2)
	fmt.Fprint(buf, "one\ntwo\nthree\n")
	if got := buf.String(); got != "two | three" {
		t.Fatalf("unexpected tail: %q", got)
	}
}

func TestRunOversizedEventDoesNotHang(t *testing.T) {
	cli := newTestCLI(t, "oversized", nil)
	cli.maxEvent = 1024

	done := make(chan error, 1)
	go func() {
		_, err := cli.Run(context.Background(), Request{Action: ActionSort, Params: SortParams{}})
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "unreadable") {
			t.Fatalf("expected unreadable output error, got %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not return after an oversized event")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	_, _ = io.Copy(io.Discard, os.Stdin)
	switch os.Getenv("BRIDGE_HELPER_MODE") {
	case "success":
		fmt.Println(`{"event":"log","level":"info","message":"running kilosort4"}`)
		fmt.Println("kilosort chatter that is not json")
		fmt.Println(`{"event":"progress","percent":50,"message":"half"}`)
		fmt.Println(`{"event":"result","data":{"num_units":7}}`)
		os.Exit(0)
	case "probe":
		fmt.Println(`{"event":"result","data":{"contacts":[{"channel_id":0,"x":0,"y":0},{"channel_id":1,"x":0,"y":20}]}}`)
		os.Exit(0)
	case "device":
		fmt.Println(`{"event":"result","data":{"cuda":true,"name":"A100"}}`)
		os.Exit(0)
	case "no_units":
		fmt.Println(`{"event":"error","kind":"no_units","message":"No non-empty units in the sorting result"}`)
		os.Exit(1)
	case "probe_error":
		fmt.Println(`{"event":"error","kind":"probe","message":"cannot parse probe"}`)
		os.Exit(1)
	case "tool_error":
		fmt.Println(`{"event":"error","kind":"external_tool","message":"ValueError: bad"}`)
		os.Exit(1)
	case "crash":
		fmt.Fprintln(os.Stderr, "Traceback: boom")
		os.Exit(3)
	case "no_result":
		os.Exit(0)
	case "oversized":
		fmt.Println(`{"event":"log","message":"` + strings.Repeat("x", 4096) + `"}`)
		chunk := strings.Repeat("y", 1023) + "\n"
		for range 1024 {
			fmt.Print(chunk)
		}
		fmt.Println(`{"event":"result","data":{}}`)
		os.Exit(0)
	}
	os.Exit(0)
}
