package tftp

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// defaultPort is the well-known TFTP server port (spec §6).
const defaultPort = "69"

// errGetMailMode rejects GET with MAIL mode at construction time,
// per spec §3: "MAIL is permitted only for PUT; GET with MAIL is
// rejected at construction."
var errGetMailMode = errors.New("tftp: MAIL mode is not valid for GET")

// withDefaultPort appends the well-known TFTP port to host if host
// does not already name one.
func withDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}

// nowFunc is the monotonic_clock.now() capability from spec §6,
// indirected so tests can control elapsed time without sleeping.
var nowFunc = time.Now

// openForRead opens local for PUT: read-binary (spec §6).
func openForRead(local string) (*os.File, error) {
	return os.Open(local)
}

// openTempForWrite opens a fresh temp file under the system temp
// directory with a basename derived from local's basename, per spec
// §6's persisted state layout. The uuid suffix keeps two concurrent
// GETs of the same local filename from colliding on the same temp
// path without needing a lock (SPEC_FULL.md Domain Stack).
func openTempForWrite(local string) (f *os.File, tempPath string, err error) {
	base := filepath.Base(local)
	tempPath = filepath.Join(os.TempDir(), base+"."+uuid.NewString()+".tmp")
	f, err = os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", err
	}
	return f, tempPath, nil
}
