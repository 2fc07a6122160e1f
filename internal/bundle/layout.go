package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spikeflow/internal/config"
	"spikeflow/internal/recording"
)

const (
	ProcDir          = "proc"
	SortingDir       = "ss_output"
	PreprocessedDir  = "preprocessed_recording_output"
	ScratchDir       = "preprocessed_recording_output_temp"
	WaveformsDir     = "waveforms"
	PhyDir           = "phy"
	ParamsFile       = "params.py"
	ManifestFile     = "manifest.yaml"
	MarkerFile       = "complete.txt"
	rasterPlotSuffix = "_raster_plot.png"
)

// markerTimeLayout matches the microsecond timestamp format of earlier markers.
const markerTimeLayout = "2006-01-02 15:04:05.000000"

// Layout resolves every path inside one recording's bundle.
type Layout struct {
	Name        string
	DisplayName string
	Base        string
}

// NewLayout places the bundle for ref under outputRoot. naming selects the
// directory name: config.BundleNamingRelative uses the path below the input
// root without its extension, anything else the recording's base name.
func NewLayout(outputRoot string, ref recording.Ref, naming string) Layout {
	name := ref.DisplayName
	if naming == config.BundleNamingRelative {
		rel := ref.RelPath
		if rel == "" {
			rel = ref.DisplayName
		}
		name = strings.TrimSuffix(rel, filepath.Ext(rel))
	}
	return Layout{
		Name:        name,
		DisplayName: ref.DisplayName,
		Base:        filepath.Join(outputRoot, ProcDir, name),
	}
}

func (l Layout) SortingDir() string      { return filepath.Join(l.Base, SortingDir) }
func (l Layout) PreprocessedDir() string { return filepath.Join(l.Base, PreprocessedDir) }
func (l Layout) ScratchDir() string      { return filepath.Join(l.Base, ScratchDir) }
func (l Layout) WaveformsDir() string    { return filepath.Join(l.Base, WaveformsDir) }
func (l Layout) PhyDir() string          { return filepath.Join(l.Base, PhyDir) }
func (l Layout) ParamsPath() string      { return filepath.Join(l.PhyDir(), ParamsFile) }
func (l Layout) ManifestPath() string    { return filepath.Join(l.Base, ManifestFile) }
func (l Layout) MarkerPath() string      { return filepath.Join(l.Base, MarkerFile) }

// RasterPlotPath is <display_name>_raster_plot.png inside the bundle.
func (l Layout) RasterPlotPath() string {
	return filepath.Join(l.Base, l.DisplayName+rasterPlotSuffix)
}

// IsComplete reports whether the viewer export or the completion marker exists.
func (l Layout) IsComplete() bool {
	return exists(l.PhyDir()) || exists(l.MarkerPath())
}

// Prepare creates the bundle directory and clears any sorter output left by
// an earlier attempt. It reports whether stale sorter output was removed.
func (l Layout) Prepare() (bool, error) {
	if err := os.MkdirAll(l.Base, 0o755); err != nil {
		return false, fmt.Errorf("create bundle directory: %w", err)
	}
	if !exists(l.SortingDir()) {
		return false, nil
	}
	if err := os.RemoveAll(l.SortingDir()); err != nil {
		return false, fmt.Errorf("remove existing sorter output: %w", err)
	}
	return true, nil
}

// ResetWaveforms removes waveforms/ so extraction starts clean.
func (l Layout) ResetWaveforms() error {
	if err := os.RemoveAll(l.WaveformsDir()); err != nil {
		return fmt.Errorf("remove existing waveforms: %w", err)
	}
	return nil
}

// WriteMarker writes complete.txt. It must be the last write of a successful run.
func (l Layout) WriteMarker(now time.Time) error {
	content := "Processing completed on " + now.Format(markerTimeLayout) + "\n"
	if err := os.WriteFile(l.MarkerPath(), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write completion marker: %w", err)
	}
	return nil
}

// PatchParams replaces the first line of params.py inside the Phy export at
// phyDir with line. It reports false without error when params.py does not exist.
func PatchParams(phyDir, line string) (bool, error) {
	path := filepath.Join(phyDir, ParamsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read params.py: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	rest := ""
	if idx := strings.IndexByte(string(data), '\n'); idx >= 0 {
		rest = string(data[idx+1:])
	}
	patched := line + "\n" + rest
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat params.py: %w", err)
	}
	if err := os.WriteFile(path, []byte(patched), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("write params.py: %w", err)
	}
	return true, nil
}

// PublishPhy moves a finished Phy export from staged into phy/. phy/ only
// ever appears complete, so a recording that fails after export is retried.
func (l Layout) PublishPhy(staged string) error {
	if err := os.RemoveAll(l.PhyDir()); err != nil {
		return fmt.Errorf("remove existing phy export: %w", err)
	}
	if err := os.Rename(staged, l.PhyDir()); err != nil {
		return fmt.Errorf("publish phy export: %w", err)
	}
	return nil
}

// Size returns the total size in bytes of regular files in the bundle.
func (l Layout) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(l.Base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
