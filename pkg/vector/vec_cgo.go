//go:build sqlite_vec && cgo

package vector

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the real sqlite-vec extension as an auto-loadable extension
	// when built with -tags sqlite_vec on a cgo-enabled toolchain. The
	// default (non-cgo) build instead uses the pure-Go brute-force search
	// in search.go, matching how the record/graph stores stay cgo-free.
	vec.Auto()
}
