// Package web holds the built dashboard page.
package web

import "embed"

// DistFS is the page served at /. Files live under "dist".
//
//go:embed dist
var DistFS embed.FS
