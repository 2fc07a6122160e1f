// Package units summarizes the sorted units exported for the Phy viewer.
package units

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/kshedden/gonpy"

	"spikeflow/internal/services"
)

// SpikeClustersFile is the Phy array assigning every spike to a cluster.
const SpikeClustersFile = "spike_clusters.npy"

// Unit is one sorted cluster and its spike count.
type Unit struct {
	ID     int64 `yaml:"id"`
	Spikes int   `yaml:"spikes"`
}

// Summary describes a Phy export.
type Summary struct {
	Units       []Unit `yaml:"units"`
	TotalSpikes int    `yaml:"total_spikes"`
}

// Count returns the number of units.
func (s Summary) Count() int {
	return len(s.Units)
}

// Summarize reads spike_clusters.npy from phyDir. A missing file returns an
// error wrapping ErrNotFound; an export with no units returns ErrNoUnits.
func Summarize(phyDir string) (Summary, error) {
	path := filepath.Join(phyDir, SpikeClustersFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Summary{}, services.Wrap(services.ErrNotFound, "summarize", "open clusters",
				SpikeClustersFile+" missing from export", err)
		}
		return Summary{}, services.Wrap(services.ErrExternalTool, "summarize", "open clusters", "stat "+path, err)
	}

	clusters, err := readLabels(path)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrExternalTool, "summarize", "read clusters",
			"unreadable "+SpikeClustersFile, err)
	}

	counts := make(map[int64]int)
	for _, id := range clusters {
		counts[id]++
	}
	summary := Summary{Units: make([]Unit, 0, len(counts)), TotalSpikes: len(clusters)}
	for id, n := range counts {
		summary.Units = append(summary.Units, Unit{ID: id, Spikes: n})
	}
	sort.Slice(summary.Units, func(i, j int) bool { return summary.Units[i].ID < summary.Units[j].ID })

	if summary.Count() == 0 {
		return summary, services.Wrap(services.ErrNoUnits, "summarize", "count units", "no non-empty units", nil)
	}
	return summary, nil
}

// readLabels decodes a one-dimensional integer array of any width gonpy supports.
func readLabels(path string) ([]int64, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, err
	}
	if len(r.Shape) > 1 && r.Shape[1] != 1 {
		return nil, fmt.Errorf("expected a vector, got shape %v", r.Shape)
	}

	switch r.Dtype {
	case "i4":
		data, err := r.GetInt32()
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(data))
		for i, v := range data {
			out[i] = int64(v)
		}
		return out, nil
	case "i8":
		return r.GetInt64()
	case "u4":
		data, err := r.GetUint32()
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(data))
		for i, v := range data {
			out[i] = int64(v)
		}
		return out, nil
	case "u8":
		data, err := r.GetUint64()
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(data))
		for i, v := range data {
			out[i] = int64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", r.Dtype)
	}
}
