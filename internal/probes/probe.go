// Package probes holds the six diagnostic checks the RCA loop can
// dispatch. Each probe is a side-effect-free function of
// (tenant, ad, window) over the warehouse store: it never mutates state
// and never fails for business reasons. A probe that cannot decide
// returns Evidence with Inconclusive set; it raises an error only for
// upstream unavailability.
//
// The catalog is closed. The model selects from it but cannot extend it;
// mapping evidence to a root-cause tag happens in the rca package, in
// code.
package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/spendguard/spendguard/internal/domain"
	"github.com/spendguard/spendguard/internal/warehouse"
)

// Probe names, fixed. These are the tool names presented to the model.
const (
	NameCPMSpike         = "cpm_spike"
	NameCreativeFatigue  = "creative_fatigue"
	NameLandingPage      = "landing_page"
	NameTracking         = "tracking"
	NameBudgetExhaustion = "budget_exhaustion"
	NameSeasonality      = "seasonality"
)

// Probe is one diagnostic check.
type Probe interface {
	Name() string
	Description() string
	Run(ctx context.Context, tenant, adID string, windowDays int) (domain.Evidence, error)
}

// Descriptor is the public shape of a probe as presented to the model.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params"`
	Output      []string `json:"output"`
}

// Catalog is the fixed, ordered probe set.
type Catalog struct {
	ordered []Probe
	byName  map[string]Probe
}

// NewCatalog builds the six-probe catalog over a store.
func NewCatalog(store warehouse.Store) *Catalog {
	ordered := []Probe{
		&cpmSpikeProbe{store: store},
		&creativeFatigueProbe{store: store},
		&landingPageProbe{store: store},
		&trackingProbe{store: store},
		&budgetExhaustionProbe{store: store},
		&seasonalityProbe{store: store},
	}
	byName := make(map[string]Probe, len(ordered))
	for _, p := range ordered {
		byName[p.Name()] = p
	}
	return &Catalog{ordered: ordered, byName: byName}
}

// ByName resolves a probe; the bool is false for names outside the
// catalog.
func (c *Catalog) ByName(name string) (Probe, bool) {
	p, ok := c.byName[name]
	return p, ok
}

// Names returns the catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.ordered))
	for i, p := range c.ordered {
		out[i] = p.Name()
	}
	return out
}

// Descriptors returns the model-facing catalog.
func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, len(c.ordered))
	for i, p := range c.ordered {
		out[i] = Descriptor{
			Name:        p.Name(),
			Description: p.Description(),
			Params:      []string{"ad_id", "window_days", "tenant"},
			Output:      []string{"fired", "measurements", "interpretation"},
		}
	}
	return out
}

// evidence assembles the common fields of a probe result.
func evidence(name string, from, to time.Time) domain.Evidence {
	return domain.Evidence{
		Probe:        name,
		Measurements: map[string]float64{},
		From:         from,
		To:           to,
	}
}

// inconclusive marks evidence undecidable with a reason.
func inconclusive(ev domain.Evidence, reason string) domain.Evidence {
	ev.Fired = false
	ev.Inconclusive = true
	ev.Interpretation = reason
	return ev
}

// pctChange is (cur-base)/base in percent; 0 when base is 0.
func pctChange(cur, base float64) float64 {
	if base == 0 {
		return 0
	}
	return (cur - base) / base * 100
}

// meanOf averages the values of a series slice.
func meanOf(points []warehouse.SeriesPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}

// seriesRange reports the span of a series; zero times for empty input.
func seriesRange(points []warehouse.SeriesPoint) (time.Time, time.Time) {
	if len(points) == 0 {
		return time.Time{}, time.Time{}
	}
	return points[0].Date, points[len(points)-1].Date
}

// splitRecent splits a series into (prior, recent) where recent holds
// the trailing n points.
func splitRecent(points []warehouse.SeriesPoint, n int) (prior, recent []warehouse.SeriesPoint) {
	if len(points) <= n {
		return nil, points
	}
	return points[:len(points)-n], points[len(points)-n:]
}

// recordsSpan reports the date span of a record slice.
func recordsSpan(records []domain.AdRecord) (time.Time, time.Time) {
	if len(records) == 0 {
		return time.Time{}, time.Time{}
	}
	return records[0].Date, records[len(records)-1].Date
}

func probeErr(name string, err error) error {
	return fmt.Errorf("probe %s: %w", name, err)
}
