//go:build unix

package fsutil

import "golang.org/x/sys/unix"

// Writable reports whether dir is a directory the process may create files
// in. It only queries permissions and leaves dir untouched.
func Writable(dir string) bool {
	return IsDir(dir) && unix.Access(dir, unix.W_OK) == nil
}
