package fdproxy

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// socketAddr builds the broker's rendezvous address, per spec.md §6:
// abstract namespace where supported (Linux), otherwise a pathname under
// the configured temp directory with the same basename.
func socketAddr(proxyID string, tmpDir string) unix.SockaddrUnix {
	name := "fdproxy-" + proxyID
	if abstractSupported {
		// A leading NUL selects the abstract namespace: no filesystem
		// entry is created and the name disappears when the last
		// descriptor referencing it closes.
		return unix.SockaddrUnix{Name: "\x00" + name}
	}
	return unix.SockaddrUnix{Name: filepath.Join(tmpDir, name)}
}

func socketPath(proxyID string, tmpDir string) string {
	return filepath.Join(tmpDir, "fdproxy-"+proxyID)
}

func defaultTmpDir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
