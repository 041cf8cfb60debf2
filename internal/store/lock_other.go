//go:build !unix

package store

import "os"

// Advisory locking is unix-only; elsewhere the in-process mutex is the only
// exclusion.
func flock(*os.File) error   { return nil }
func funlock(*os.File) error { return nil }
