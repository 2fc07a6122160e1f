package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validatePreprocessing(); err != nil {
		return err
	}
	if err := c.validateSorter(); err != nil {
		return err
	}
	if err := c.validateWaveforms(); err != nil {
		return err
	}
	if err := c.validateFeatures(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRecording() error {
	if c.Recording.Suffix == "" {
		return errors.New("recording.suffix must be set")
	}
	switch c.Recording.BundleNaming {
	case BundleNamingBasename, BundleNamingRelative:
	default:
		return fmt.Errorf("recording.bundle_naming: unsupported value %q (want %q or %q)",
			c.Recording.BundleNaming, BundleNamingBasename, BundleNamingRelative)
	}
	return nil
}

func (c *Config) validatePreprocessing() error {
	if c.Preprocessing.FreqMin <= 0 {
		return errors.New("preprocessing.freq_min must be positive")
	}
	if c.Preprocessing.FreqMax <= c.Preprocessing.FreqMin {
		return fmt.Errorf("preprocessing.freq_max (%g) must be greater than freq_min (%g)",
			c.Preprocessing.FreqMax, c.Preprocessing.FreqMin)
	}
	if c.Preprocessing.NotchFreq < 0 {
		return errors.New("preprocessing.notch_freq must not be negative")
	}
	if c.Preprocessing.ResampleRate < 0 {
		return errors.New("preprocessing.resample_rate must not be negative")
	}
	return nil
}

func (c *Config) validateSorter() error {
	switch c.Sorter.Name {
	case SorterKilosort4, SorterMountainSort:
		return nil
	default:
		return fmt.Errorf("sorter.name: unsupported sorter %q (want %q or %q)",
			c.Sorter.Name, SorterKilosort4, SorterMountainSort)
	}
}

func (c *Config) validateWaveforms() error {
	if c.Waveforms.MsBefore <= 0 || c.Waveforms.MsAfter <= 0 {
		return errors.New("waveforms.ms_before and waveforms.ms_after must be positive")
	}
	if c.Waveforms.MaxSpikesPerUnit <= 0 {
		return errors.New("waveforms.max_spikes_per_unit must be positive")
	}
	if c.Waveforms.NJobs == 0 || c.Waveforms.NJobs < -1 {
		return errors.New("waveforms.n_jobs must be positive or -1 for all cores")
	}
	return nil
}

func (c *Config) validateFeatures() error {
	if c.Features.PCNComponents <= 0 {
		return errors.New("features.pc_n_components must be positive")
	}
	switch c.Features.PCMode {
	case "by_channel_local", "by_channel_global", "concatenated":
	default:
		return fmt.Errorf("features.pc_mode: unsupported value %q", c.Features.PCMode)
	}
	switch c.Features.SpikeAmpPeakSign {
	case "neg", "pos", "both":
	default:
		return fmt.Errorf("features.spike_amp_peak_sign: unsupported value %q", c.Features.SpikeAmpPeakSign)
	}
	return nil
}
