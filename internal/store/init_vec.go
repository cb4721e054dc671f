//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension as auto-loadable so vector search
	// can run inside SQLite instead of the Go-side scan.
	vec.Auto()
}
