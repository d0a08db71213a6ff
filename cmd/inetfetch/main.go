package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/emmalab/fogsim/internal/inet"
)

func main() {
	godotenv.Load()

	dir := flag.String("dir", "datasets", "directory for the GraphML dataset files")
	sources := flag.String("sources", "", "comma-separated providers to fetch, all when empty")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall fetch timeout")
	flag.Parse()

	log := logrus.WithField("component", "inetfetch")

	selected := inet.DefaultSources()
	if *sources != "" {
		filtered := make(map[string]inet.Fetcher)
		for _, name := range strings.Split(*sources, ",") {
			name = strings.TrimSpace(name)
			f, ok := selected[name]
			if !ok {
				log.Fatalf("unknown source %q", name)
			}
			filtered[name] = f
		}
		selected = filtered
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := inet.FetchAndSaveAll(ctx, *dir, selected); err != nil {
		log.WithError(err).Fatal("fetching latency datasets")
	}
	log.Infof("saved %d dataset(s) to %s", len(selected), *dir)
}
