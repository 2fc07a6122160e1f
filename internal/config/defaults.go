package config

const (
	// DefaultProbeFileName is the probe layout looked up next to the executable
	// when no probe file is configured.
	DefaultProbeFileName = "nancyprobe_linearprobelargespace.prb"

	SorterKilosort4    = "kilosort4"
	SorterMountainSort = "mountainsort5"

	BundleNamingBasename = "basename"
	BundleNamingRelative = "relative"

	defaultOutputDir         = "."
	defaultLogDir            = "~/.local/share/spikeflow/logs"
	defaultStateDir          = "~/.local/share/spikeflow"
	defaultSuffix            = "merged.rec"
	defaultStreamID          = "trodes"
	defaultFreqMin           = 300
	defaultFreqMax           = 6000
	defaultNotchQ            = 30
	defaultWhitenDtype       = "float32"
	defaultMsBefore          = 1
	defaultMsAfter           = 1
	defaultMaxSpikesPerUnit  = 200
	defaultNJobs             = 8
	defaultTotalMemory       = "16G"
	defaultPCNComponents     = 3
	defaultPCMode            = "by_channel_local"
	defaultSpikeAmpPeakSign  = "neg"
	defaultDatPathLine       = "dat_path = r'./recording.dat'"
	defaultStaleScratchHours = 24
	defaultPython            = "python3"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			StateDir:  defaultStateDir,
		},
		Recording: Recording{
			Suffix:       defaultSuffix,
			StreamID:     defaultStreamID,
			BundleNaming: BundleNamingBasename,
		},
		Preprocessing: Preprocessing{
			FreqMin:     defaultFreqMin,
			FreqMax:     defaultFreqMax,
			NotchQ:      defaultNotchQ,
			WhitenDtype: defaultWhitenDtype,
		},
		Sorter: Sorter{
			Name:   SorterKilosort4,
			Params: map[string]any{},
		},
		Waveforms: Waveforms{
			MsBefore:         defaultMsBefore,
			MsAfter:          defaultMsAfter,
			MaxSpikesPerUnit: defaultMaxSpikesPerUnit,
			NJobs:            defaultNJobs,
			TotalMemory:      defaultTotalMemory,
		},
		Features: Features{
			ComputePCFeatures: true,
			ComputeAmplitudes: true,
			PCNComponents:     defaultPCNComponents,
			PCMode:            defaultPCMode,
			SpikeAmpPeakSign:  defaultSpikeAmpPeakSign,
		},
		Export: Export{
			DatPathLine: defaultDatPathLine,
			CopyBinary:  true,
		},
		Output: Output{
			StaleScratchHours: defaultStaleScratchHours,
		},
		Bridge: Bridge{
			Python: defaultPython,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
