package tftp

import (
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// session holds the per-transfer state spec §3's SessionState entity
// describes: target/temp/final paths, file handle, block counter,
// mode, buffers, peer address, and statistics. It is created once per
// transfer, mutated only by the state machine driving it, and
// destroyed exactly once at finalize (spec §4.D).
type session struct {
	log *logger

	targetRemote string // remote path named in the RRQ/WRQ
	tempLocal    string // GET only: temp file path under the system temp dir
	finalLocal   string // GET only: final local path after rename

	file *os.File
	mode TransferMode

	netConn    *net.UDPConn
	peerAddr   net.Addr // bound to the server's reply TID on first non-error reply
	tidLocked  bool
	lastBlock  uint16
	lastOpcode opcode
	sendBuf    []byte // last transmitted datagram, retained for retransmit
	recvBuf    []byte

	stats   statistics
	retries int

	once      sync.Once
	done      atomic.Bool
	result    Status
	resultErr error
}

// newSession allocates the structures spec §3 describes. now seeds
// the Statistics entity (avg_rtt initialized to TIMEOUT_MAX).
func newSession(base *logrus.Logger, remote string, mode TransferMode, now time.Time) *session {
	return &session{
		log:          newLogger(base, remote),
		targetRemote: remote,
		mode:         mode,
		recvBuf:      make([]byte, 4+blockSize),
		stats:        newStatistics(now),
	}
}

// bindPeer captures the server-chosen TID from the first non-error
// reply, per spec §4.F/§4.G's "Peer TID binding" and the RFC 1350
// TID rule in spec §6: the reply arrives from a new source port, and
// all subsequent datagrams go to that address.
func (s *session) bindPeer(addr net.Addr) {
	if !s.tidLocked {
		s.peerAddr = addr
		s.tidLocked = true
	}
}

// cleanup is idempotent (spec §4.D): remove the timer (implicit —
// this implementation arms no standalone timer goroutine, see
// timer.go), delete the temp file if present, drop the file handle,
// and close the socket. Safe to call multiple times and safe to call
// concurrently with itself (guarded by finalize's sync.Once — see
// below — cleanup itself is only ever invoked from there).
func (s *session) cleanup() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if s.tempLocal != "" {
		_ = os.Remove(s.tempLocal)
		s.tempLocal = ""
	}
	if s.netConn != nil {
		_ = s.netConn.Close()
		s.netConn = nil
	}
}

// finalize runs cleanup() then records the terminal outcome exactly
// once (spec §4.D, §4.H, §8 invariants 1 and 3); re-entry after the
// first call is a no-op, which is how this implementation satisfies
// "the receiver is completed exactly once" without a callback
// indirection: Get/Put block until finalize has run once, then
// return its recorded result.
func (s *session) finalize(status Status, err error) {
	s.once.Do(func() {
		s.cleanup()
		s.result = status
		s.resultErr = err
		s.done.Store(true)
	})
}

// finalized reports whether finalize has already run.
func (s *session) finalized() bool {
	return s.done.Load()
}
