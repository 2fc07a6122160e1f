// Package probe loads electrode probe geometry through the toolkit bridge.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/gonum/floats"
	"github.com/gonum/matrix/mat64"

	"spikeflow/internal/services"
	"spikeflow/internal/services/bridge"
)

// Reader parses probe files. bridge.CLI satisfies it.
type Reader interface {
	ReadProbe(ctx context.Context, path string) (bridge.ProbeInfo, error)
}

// Contact is one electrode site.
type Contact struct {
	ChannelID int
	X         float64
	Y         float64
	Group     int
}

// Geometry is a loaded probe layout. It is read once per batch and shared by
// every recording; the bridge re-reads the same file by path.
type Geometry struct {
	Path     string
	Contacts []Contact
}

// Load validates path and reads the probe through reader.
func Load(ctx context.Context, reader Reader, path string) (*Geometry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "probe", "load", "probe file path required", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, "probe", "load",
				fmt.Sprintf("probe file %q does not exist", path), err)
		}
		return nil, services.Wrap(services.ErrConfiguration, "probe", "load", "stat probe file", err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrConfiguration, "probe", "load",
			fmt.Sprintf("probe file %q is a directory", path), nil)
	}
	if reader == nil {
		return nil, services.Wrap(services.ErrConfiguration, "probe", "load", "no probe reader configured", nil)
	}

	parsed, err := reader.ReadProbe(ctx, path)
	if err != nil {
		if services.KindOf(err) == services.KindInterrupted {
			return nil, err
		}
		return nil, services.Wrap(services.ErrConfiguration, "probe", "parse",
			fmt.Sprintf("cannot read probe file %q", path), err)
	}
	if len(parsed.Contacts) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "probe", "parse",
			fmt.Sprintf("probe file %q defines no contacts", path), nil)
	}

	geom := &Geometry{Path: path, Contacts: make([]Contact, 0, len(parsed.Contacts))}
	for _, c := range parsed.Contacts {
		geom.Contacts = append(geom.Contacts, Contact{ChannelID: c.ChannelID, X: c.X, Y: c.Y, Group: c.Group})
	}
	return geom, nil
}

// ChannelCount returns the number of contacts.
func (g *Geometry) ChannelCount() int {
	if g == nil {
		return 0
	}
	return len(g.Contacts)
}

// GroupCount returns the number of distinct shank groups.
func (g *Geometry) GroupCount() int {
	if g == nil {
		return 0
	}
	seen := make(map[int]struct{})
	for _, c := range g.Contacts {
		seen[c.Group] = struct{}{}
	}
	return len(seen)
}

// Positions returns the contact coordinates as an n×2 matrix.
func (g *Geometry) Positions() *mat64.Dense {
	if g.ChannelCount() == 0 {
		return nil
	}
	data := make([]float64, 0, 2*len(g.Contacts))
	for _, c := range g.Contacts {
		data = append(data, c.X, c.Y)
	}
	return mat64.NewDense(len(g.Contacts), 2, data)
}

// Extent returns the horizontal and vertical span covered by the contacts in
// probe units (usually micrometres).
func (g *Geometry) Extent() (width, height float64) {
	positions := g.Positions()
	if positions == nil {
		return 0, 0
	}
	xs := mat64.Col(nil, 0, positions)
	ys := mat64.Col(nil, 1, positions)
	return floats.Max(xs) - floats.Min(xs), floats.Max(ys) - floats.Min(ys)
}
