//go:build cgo

package store

// go-libsql requires cgo; the driver is registered only in cgo builds.
import _ "github.com/tursodatabase/go-libsql"
