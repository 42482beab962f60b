// Package migrations embeds the session log schema into the binary so the
// relay can create and upgrade its database without SQL files on disk.
package migrations

import "embed"

// Files holds every *.up.sql migration at its root.
//
//go:embed *.sql
var Files embed.FS
