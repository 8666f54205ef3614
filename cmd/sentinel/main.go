package main

import (
	"os"
)

// main is the entry point for the Sentinel service.
//
// Sentinel is responsible for:
//   - Collecting security events from local sources on a fixed schedule
//   - Scoring every event with the multi-layer detection engine
//   - Running remote collection tasks against registered hosts over SSH
//   - Publishing scored events and task results to NATS
//   - Exposing health, statistics and Prometheus metrics over HTTP
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
