// Package main hosts the catalogsync entrypoint.
//
// Architecture overview:
//   - Ingestion: the published link sheet is fetched over HTTP (Colly) with bounded retries and parsed into
//     ordered (url, preferred category) rows. Non-URL rows are dropped and the count is capped after filtering.
//   - Resolution: each link walks the resolver tiers cheapest first (pattern match on the link itself, HTTP
//     redirect follow, headless render) until one yields a product id.
//   - Extraction & merge: the canonical product page is rendered in the shared Chromedp session, parsed with
//     goquery, classified against categories.json and merged into the run-owned catalog store.
//   - Recheck: after new rows are processed, the stalest records not touched this run are re-extracted.
//   - Persistence & fanout: the snapshot is written atomically; archive (local/GCS), Postgres mirror, run
//     notification (Pub/Sub) and Pushgateway metrics are optional and never fail the run.
//
// Operational notes:
//   - Configure via CATALOG_* env vars or --config; the legacy SHEET_CSV_URL, MAX_ROWS, RECHECK_EXISTING and
//     CONCURRENCY names still apply. A .env file in the working directory is loaded first.
//   - Run locally: go run . sync --config catalog.yaml, or go run . resolve <url> to triage a single link.
package main

import (
	"github.com/JakeFAU/affiliate-catalog/cmd"
)

func main() {
	cmd.Execute()
}
