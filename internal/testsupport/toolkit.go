package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kshedden/gonpy"

	"spikeflow/internal/services"
	"spikeflow/internal/services/bridge"
	"spikeflow/internal/units"
)

// Failure makes FakeToolkit fail an action. Match, when set, limits the
// failure to requests whose params mention it (usually a bundle name).
type Failure struct {
	Action bridge.Action
	Match  string
	Err    error
}

// FakeToolkit implements bridge.Toolkit by writing small placeholder
// artifacts where the real toolkit would write its outputs.
type FakeToolkit struct {
	// CUDA is reported by DetectDevice.
	CUDA bool
	// Labels maps a bundle name to the spike cluster labels exported for it.
	// Bundles without an entry export DefaultLabels.
	Labels   map[string][]int32
	Failures []Failure
	// Hook runs before every action; a non-nil return fails the action.
	Hook func(ctx context.Context, req bridge.Request) error

	ProbeErr  error
	DeviceErr error

	mu    sync.Mutex
	calls []bridge.Request
}

// DefaultLabels yields three units with six spikes.
var DefaultLabels = []int32{0, 0, 1, 2, 2, 2}

// NewFakeToolkit returns a toolkit that succeeds for every action.
func NewFakeToolkit() *FakeToolkit {
	return &FakeToolkit{Labels: map[string][]int32{}}
}

// Calls returns a copy of the recorded requests.
func (f *FakeToolkit) Calls() []bridge.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridge.Request(nil), f.calls...)
}

// Actions returns the recorded action names in call order.
func (f *FakeToolkit) Actions() []bridge.Action {
	calls := f.Calls()
	out := make([]bridge.Action, 0, len(calls))
	for _, call := range calls {
		out = append(out, call.Action)
	}
	return out
}

// ReadProbe returns a four-site linear probe.
func (f *FakeToolkit) ReadProbe(ctx context.Context, path string) (bridge.ProbeInfo, error) {
	f.record(bridge.Request{Action: bridge.ActionReadProbe, Params: map[string]string{"probe_file": path}})
	if f.ProbeErr != nil {
		return bridge.ProbeInfo{}, f.ProbeErr
	}
	info := bridge.ProbeInfo{}
	for i := 0; i < 4; i++ {
		info.Contacts = append(info.Contacts, bridge.Contact{ChannelID: i, X: 0, Y: float64(i * 40)})
	}
	return info, nil
}

// DetectDevice reports the CUDA flag.
func (f *FakeToolkit) DetectDevice(ctx context.Context) (bridge.DeviceInfo, error) {
	f.record(bridge.Request{Action: bridge.ActionDetectDevice})
	if f.DeviceErr != nil {
		return bridge.DeviceInfo{}, f.DeviceErr
	}
	if f.CUDA {
		return bridge.DeviceInfo{CUDA: true, Name: "Fake GPU"}, nil
	}
	return bridge.DeviceInfo{}, nil
}

// Run writes the artifacts for req and returns a result shaped like the real bridge's.
func (f *FakeToolkit) Run(ctx context.Context, req bridge.Request) (bridge.Result, error) {
	f.record(req)
	action := string(req.Action)
	if err := ctx.Err(); err != nil {
		return bridge.Result{}, services.Wrap(services.ErrInterrupted, action, "run", "cancelled", err)
	}
	if f.Hook != nil {
		if err := f.Hook(ctx, req); err != nil {
			return bridge.Result{}, err
		}
	}
	if err := f.failureFor(req); err != nil {
		return bridge.Result{}, err
	}
	if req.Progress != nil {
		req.Progress(bridge.ProgressUpdate{Percent: 100, Message: action + " done"})
	}

	switch p := req.Params.(type) {
	case bridge.PreprocessParams:
		if err := writeMarkerFile(p.OutputDir, "traces_cached_seg0.raw"); err != nil {
			return bridge.Result{}, err
		}
		return encode(bridge.PreprocessResult{NumChannels: 4, SamplingFrequency: 30000, DurationSeconds: 10})
	case bridge.SortParams:
		if err := writeMarkerFile(p.WorkDir, "sorter.log"); err != nil {
			return bridge.Result{}, err
		}
		if err := writeMarkerFile(p.OutputDir, "spikes.npy"); err != nil {
			return bridge.Result{}, err
		}
		return encode(bridge.SortResult{NumUnits: f.unitCount(p.OutputDir)})
	case bridge.PlotParams:
		if err := os.MkdirAll(filepath.Dir(p.OutputPath), 0o755); err != nil {
			return bridge.Result{}, err
		}
		if err := os.WriteFile(p.OutputPath, []byte("\x89PNG\r\n"), 0o644); err != nil {
			return bridge.Result{}, err
		}
		return encode(map[string]string{"output_path": p.OutputPath})
	case bridge.WaveformParams:
		if err := writeMarkerFile(p.OutputDir, "templates_average.npy"); err != nil {
			return bridge.Result{}, err
		}
		return encode(bridge.WaveformResult{NumUnits: f.unitCount(p.OutputDir)})
	case bridge.FeatureParams:
		if err := writeMarkerFile(filepath.Join(p.WaveformsDir, "extensions"), "features.json"); err != nil {
			return bridge.Result{}, err
		}
		return encode(map[string]bool{"ok": true})
	case bridge.ExportParams:
		if err := f.writePhy(p); err != nil {
			return bridge.Result{}, err
		}
		return encode(map[string]string{"output_dir": p.OutputDir})
	default:
		return bridge.Result{}, services.Wrap(services.ErrValidation, action, "run",
			fmt.Sprintf("unexpected params %T", req.Params), nil)
	}
}

func (f *FakeToolkit) record(req bridge.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
}

func (f *FakeToolkit) failureFor(req bridge.Request) error {
	text := fmt.Sprintf("%+v", req.Params)
	for _, failure := range f.Failures {
		if failure.Action != req.Action {
			continue
		}
		if failure.Match != "" && !strings.Contains(text, failure.Match) {
			continue
		}
		if failure.Err != nil {
			return failure.Err
		}
		return services.Wrap(services.ErrExternalTool, string(req.Action), "run", "injected failure", nil)
	}
	return nil
}

func (f *FakeToolkit) labelsFor(path string) []int32 {
	for name, labels := range f.Labels {
		if strings.Contains(path, string(filepath.Separator)+name+string(filepath.Separator)) {
			return labels
		}
	}
	return DefaultLabels
}

func (f *FakeToolkit) unitCount(path string) int {
	seen := map[int32]struct{}{}
	for _, label := range f.labelsFor(path) {
		seen[label] = struct{}{}
	}
	return len(seen)
}

func (f *FakeToolkit) writePhy(p bridge.ExportParams) error {
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return err
	}
	params := fmt.Sprintf("dat_path = r'%s'\nn_channels_dat = 4\ndtype = 'float32'\nsample_rate = 30000.0\n",
		filepath.Join(p.OutputDir, "recording.dat"))
	if err := os.WriteFile(filepath.Join(p.OutputDir, "params.py"), []byte(params), 0o644); err != nil {
		return err
	}
	labels := f.labelsFor(p.OutputDir)
	w, err := gonpy.NewFileWriter(filepath.Join(p.OutputDir, units.SpikeClustersFile))
	if err != nil {
		return err
	}
	w.Shape = []int{len(labels)}
	return w.WriteInt32(labels)
}

func writeMarkerFile(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte("fake"), 0o644)
}

func encode(v any) (bridge.Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Result{Data: data}, nil
}

var _ bridge.Toolkit = (*FakeToolkit)(nil)
