// Package migrations embeds the goose SQL migrations that define the engine
// schema (sources, content items, embeddings, clusters, digests, feedback,
// provider accounting). Files are named YYYYMMDDHHMMSS_description.sql and
// applied in order at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
