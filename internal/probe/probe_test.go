package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"spikeflow/internal/services"
	"spikeflow/internal/services/bridge"
)

type stubReader struct {
	info  bridge.ProbeInfo
	err   error
	calls int
}

func (s *stubReader) ReadProbe(context.Context, string) (bridge.ProbeInfo, error) {
	s.calls++
	return s.info, s.err
}

func writeProbe(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linear.prb")
	if err := os.WriteFile(path, []byte("channel_groups = {}\n"), 0o644); err != nil {
		t.Fatalf("write probe: %v", err)
	}
	return path
}

func TestLoadBuildsGeometry(t *testing.T) {
	reader := &stubReader{info: bridge.ProbeInfo{Contacts: []bridge.Contact{
		{ChannelID: 0, X: 0, Y: 0},
		{ChannelID: 1, X: 16, Y: 40},
		{ChannelID: 2, X: -16, Y: 120, Group: 1},
	}}}
	path := writeProbe(t)

	geom, err := Load(context.Background(), reader, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if geom.Path != path || geom.ChannelCount() != 3 || geom.GroupCount() != 2 {
		t.Fatalf("unexpected geometry: %+v", geom)
	}
	width, height := geom.Extent()
	if width != 32 || height != 120 {
		t.Fatalf("unexpected extent: %gx%g", width, height)
	}
}

func TestLoadRejectsBadPaths(t *testing.T) {
	reader := &stubReader{}
	cases := map[string]string{
		"missing":   filepath.Join(t.TempDir(), "nope.prb"),
		"directory": t.TempDir(),
		"empty":     "",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), reader, path)
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
	if reader.calls != 0 {
		t.Fatalf("reader should not be called for invalid paths, got %d calls", reader.calls)
	}
}

func TestLoadRejectsUnparseableAndEmptyProbes(t *testing.T) {
	path := writeProbe(t)

	_, err := Load(context.Background(), &stubReader{err: errors.New("syntax error")}, path)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for parse failure, got %v", err)
	}

	_, err = Load(context.Background(), &stubReader{}, path)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for empty probe, got %v", err)
	}
}

func TestExtentOfEmptyGeometry(t *testing.T) {
	var geom Geometry
	if w, h := geom.Extent(); w != 0 || h != 0 {
		t.Fatalf("expected zero extent, got %gx%g", w, h)
	}
}
