// Package inet loads real-world inter-region latency datasets into a
// topology. Datasets come from public measurement services (CloudPing,
// WonderNetwork, gcloudping) and are persisted as GraphML so simulations can
// run offline.
package inet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/topology"
)

var log = logrus.WithField("component", "inet")

// Measurement is one directed latency observation between two regions,
// in milliseconds. Max and Min are -1 when the provider reports averages
// only.
type Measurement struct {
	Source      string
	Destination string
	Avg         float64
	Max         float64
	Min         float64
}

// AddToTopology merges measurements into the topology as relay vertices
// joined by constant-latency edges. Self-measurements are skipped. The
// prefix namespaces region names, e.g. "internet_".
func AddToTopology(topo *topology.Topology, measurements []Measurement, prefix string) {
	for _, m := range measurements {
		if m.Source == m.Destination {
			continue
		}
		src := netem.Relay(prefix + m.Source)
		dst := netem.Relay(prefix + m.Destination)
		topo.AddLatencyEdge(src, dst, m.Avg)
	}
}

// InternetPrefix namespaces dataset regions once they are part of a
// topology, e.g. "internet_eu-west-1".
const InternetPrefix = "internet_"

// LoadLatest loads the most recent stored dataset of the named source from
// dir into the topology. Regions are prefixed with InternetPrefix.
func LoadLatest(topo *topology.Topology, source, dir string) error {
	path := filepath.Join(dir, source+"_latest.graphml")
	measurements, err := LoadGraphML(path)
	if err != nil {
		return fmt.Errorf("loading %s dataset: %w", source, err)
	}
	log.WithFields(logrus.Fields{"source": source, "measurements": len(measurements)}).
		Info("loaded internet latency dataset")
	AddToTopology(topo, measurements, InternetPrefix)
	return nil
}

// FetchAndSaveAll fetches every source and stores a dated snapshot plus the
// "_latest" alias under dir. Sources that fail are logged and skipped; the
// returned error joins all failures.
func FetchAndSaveAll(ctx context.Context, dir string, sources map[string]Fetcher) error {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	today := time.Now().Format("2006_01_02")

	var errs []error
	for _, name := range names {
		fetcher := sources[name]
		log.WithField("source", name).Info("fetching latency dataset")

		measurements, err := fetcher.Fetch(ctx)
		if err != nil {
			log.WithField("source", name).WithError(err).Warn("fetch failed")
			errs = append(errs, err)
			continue
		}

		dated := filepath.Join(dir, fmt.Sprintf("%s_%s.graphml", name, today))
		latest := filepath.Join(dir, name+"_latest.graphml")
		if err := SaveGraphML(dated, measurements); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := SaveGraphML(latest, measurements); err != nil {
			errs = append(errs, err)
			continue
		}
		log.WithFields(logrus.Fields{"source": name, "measurements": len(measurements), "file": dated}).
			Info("saved latency dataset")
	}
	return errors.Join(errs...)
}
