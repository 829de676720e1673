//go:build !unix

package fsutil

import "os"

// Writable reports whether dir is a directory whose mode grants write
// permission.
func Writable(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir() && info.Mode().Perm()&0o200 != 0
}
