package pipeline

import (
	"context"
	"log/slog"

	"spikeflow/internal/config"
	"spikeflow/internal/logging"
	"spikeflow/internal/services"
	"spikeflow/internal/services/bridge"
)

const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// SorterParams returns the parameters handed to the sorter: per-sorter
// defaults overlaid with the configured overrides.
func SorterParams(cfg *config.Config, device string) map[string]any {
	params := map[string]any{}
	switch cfg.Sorter.Name {
	case config.SorterMountainSort:
		params["detect_sign"] = 0
		params["phase1_detect_channel_radius"] = 700
		params["detect_channel_radius"] = 700
	case config.SorterKilosort4:
		params["torch_device"] = device
	}
	for key, value := range cfg.Sorter.Params {
		params[key] = value
	}
	return params
}

// ResolveDevice picks the compute device for sorting. Detection failures fall
// back to the CPU; only an interruption is returned as an error.
func ResolveDevice(ctx context.Context, toolkit bridge.Toolkit, cfg *config.Config, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Sorter.Name == config.SorterMountainSort {
		logger.Debug("mountainsort5 runs on the CPU; skipping GPU detection")
		return DeviceCPU, nil
	}
	if cfg.Sorter.ForceCPU {
		logger.Info("Forcing CPU for sorting.")
		return DeviceCPU, nil
	}
	info, err := toolkit.DetectDevice(ctx)
	if err != nil {
		if services.KindOf(err) == services.KindInterrupted {
			return "", err
		}
		logging.WarnWithContext(logger, "GPU detection failed", "device_detection_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that torch is installed in the bridge interpreter"),
			logging.String(logging.FieldImpact, "sorting runs on the CPU"),
		)
		logger.Info("GPU not available. Using CPU for sorting.")
		return DeviceCPU, nil
	}
	if info.CUDA {
		logger.Info("GPU is available. Using GPU for sorting.", logging.String("gpu", info.Name))
		return DeviceCUDA, nil
	}
	logger.Info("GPU not available. Using CPU for sorting.")
	return DeviceCPU, nil
}
