package pipeline_test

import (
	"context"
	"path/filepath"
	"testing"

	"spikeflow/internal/pipeline"
	"spikeflow/internal/testsupport"
)

func TestCheckToolkit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	kit := testsupport.NewFakeToolkit()
	kit.CUDA = true

	results := pipeline.CheckToolkit(context.Background(), kit, cfg)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Ready || results[0].Detail != "4 channels in 1 group(s)" {
		t.Fatalf("unexpected probe result %+v", results[0])
	}
	if !results[1].Ready || results[1].Detail != "CUDA (Fake GPU)" {
		t.Fatalf("unexpected device result %+v", results[1])
	}

	cfg.Paths.ProbeFile = filepath.Join(t.TempDir(), "missing.prb")
	results = pipeline.CheckToolkit(context.Background(), kit, cfg)
	if results[0].Ready || results[0].Detail == "" {
		t.Fatalf("expected missing probe to be unhealthy, got %+v", results[0])
	}
}
