// Package epaper defines the domain types shared by the ingestion pipeline: publisher profiles,
// page keys, run configuration, per-date outcomes, the failure taxonomy, and the interfaces the
// pipeline consumes (fetcher, renderer, blob store, checkpoint, missing-page log).
package epaper
