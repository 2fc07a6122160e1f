package stage

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage names in execution order.
const (
	Preprocess          = "preprocess"
	Sort                = "sort"
	PersistSorting      = "persist_sorting"
	PersistPreprocessed = "persist_preprocessed"
	Plot                = "plot"
	ExtractWaveforms    = "extract_waveforms"
	ComputeFeatures     = "compute_features"
	Export              = "export"
	PatchParams         = "patch_params"
	Summarize           = "summarize"
	MarkComplete        = "mark_complete"
)

// Order lists every stage in the sequence each recording runs through.
var Order = []string{
	Preprocess,
	Sort,
	PersistSorting,
	PersistPreprocessed,
	Plot,
	ExtractWaveforms,
	ComputeFeatures,
	Export,
	PatchParams,
	Summarize,
	MarkComplete,
}

// Label converts a stage name into a display label, e.g. "Extract Waveforms".
func Label(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" {
		return ""
	}
	return cases.Title(language.Und).String(name)
}
