package pipeline

import (
	"context"
	"fmt"

	"spikeflow/internal/config"
	"spikeflow/internal/probe"
	"spikeflow/internal/services/bridge"
	"spikeflow/internal/stage"
)

// CheckToolkit exercises the bridge the way a batch would before its first
// recording: it parses the probe file and asks for the compute device.
func CheckToolkit(ctx context.Context, toolkit bridge.Toolkit, cfg *config.Config) []stage.Health {
	results := make([]stage.Health, 0, 2)

	probePath, err := cfg.ResolveProbeFile()
	if err != nil {
		results = append(results, stage.Unhealthy("Probe geometry", err.Error()))
	} else if geometry, err := probe.Load(ctx, toolkit, probePath); err != nil {
		results = append(results, stage.Unhealthy("Probe geometry", err.Error()))
	} else {
		h := stage.Healthy("Probe geometry")
		h.Detail = fmt.Sprintf("%d channels in %d group(s)", geometry.ChannelCount(), geometry.GroupCount())
		results = append(results, h)
	}

	info, err := toolkit.DetectDevice(ctx)
	switch {
	case err != nil:
		results = append(results, stage.Unhealthy("Compute device", err.Error()))
	case info.CUDA:
		h := stage.Healthy("Compute device")
		h.Detail = "CUDA"
		if info.Name != "" {
			h.Detail += " (" + info.Name + ")"
		}
		results = append(results, h)
	default:
		h := stage.Healthy("Compute device")
		h.Detail = "CPU only"
		results = append(results, h)
	}
	return results
}
