// Package worker implements the cache reconciler that drives one application
// build through install → activate → serve.
//
// A Worker is bound to a single manifest.Build. Install stages the core shell
// files in the temporary partition; Activate reconciles the persisted manifest
// against the current one, evicts stale content, promotes the staged shell
// files and persists the new manifest; Serve answers intercepted GET requests
// (online-first for the document root, cache-first for everything else);
// Backfill fetches whatever the content partition is still missing.
//
// Registration owns the active (and optionally waiting) worker and serializes
// lifecycle steps so install and activate never overlap. Serve may run
// concurrently with anything; a request racing an activation can observe a
// partially migrated content partition.
package worker
