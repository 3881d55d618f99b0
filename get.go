// Copyright (C) 2017 Kale Blankenship. All rights reserved.
// This software may be modified and distributed under the terms
// of the MIT license.  See the LICENSE file for details

package tftp

import (
	"context"
	"errors"
	"os"

	"github.com/kcexn/tftp/netascii"
)

// getTimeoutMultiplier is GET's retransmit timer multiplier while
// awaiting the next DATA block (spec §4.E).
const getTimeoutMultiplier = 2

// getGraceMultiplier is the post-final-ACK grace period: after the
// terminal block is ACKed, the client waits this many avg_rtt for a
// retransmitted terminal DATA (the server's sign that our ACK was
// lost) before declaring the transfer complete (spec §4.G, §9).
const getGraceMultiplier = 5

// getState is GET's state-machine shape, the same `func() func()`
// idiom runPut's putState uses (conn.go's stateType).
type getState func() getState

type getMachine struct {
	sess *session
	ctx  context.Context

	dec *netascii.Reader // nil unless sess.mode == ModeNetASCII

	expected  uint16 // next block number we have not yet accepted
	lastAcked uint16 // most recently accepted+ACKed block, 0 before any

	graceRounds int
}

// runGet drives a GET transfer to completion: RRQ -> DATA(1) -> ACK(1)
// -> loop { DATA(n) -> ACK(n) } until a short block, then a grace
// period for a lost final ACK before the temp file is renamed into
// place (spec §4.G).
func runGet(ctx context.Context, sess *session) (Status, error) {
	f, tempPath, err := openTempForWrite(sess.finalLocal)
	if err != nil {
		sess.finalize(Status{}, wrapError(err, "opening temp file for write"))
		return sess.result, sess.resultErr
	}
	sess.file = f
	sess.tempLocal = tempPath

	m := &getMachine{sess: sess, ctx: ctx, expected: 1}
	if sess.mode == ModeNetASCII {
		// Decode/Flush never touch the wrapped reader; GET feeds
		// payloads to Decode as they arrive instead of pulling from a
		// blocking io.Reader (see netascii.Reader.Decode).
		m.dec = netascii.NewReader(nil)
	}

	for state := m.init; state != nil; {
		state = m.barrier(state)
	}
	return sess.result, sess.resultErr
}

// barrier mirrors putMachine.barrier's fault barrier (spec §4.H, §7).
func (m *getMachine) barrier(state getState) (next getState) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && errors.Is(err, errOutOfMemory) {
				m.sess.finalize(Status{}, ErrNotEnoughMemory)
			} else {
				m.sess.finalize(Status{}, ErrStateNotRecoverable)
			}
			next = nil
		}
	}()
	return state()
}

func (m *getMachine) init() getState {
	req := encodeReadRequest(m.sess.targetRemote, m.sess.mode)
	m.sess.sendBuf = req
	m.sess.lastOpcode = opRRQ
	m.sess.log.trace("sending RRQ for %q", m.sess.targetRemote)

	d, err := sendAndAwaitReply(m.ctx, m.sess, getTimeoutMultiplier)
	if err != nil {
		return m.fail(err)
	}
	return m.handleData(d)
}

// awaitData implements AWAIT_DATA_n's self-loop for a stale/late or
// unrelated datagram (spec §4.G: "ignore, re-submit_recv"). It only
// listens — awaitReply, not sendAndAwaitReply — so a stream of
// stale/duplicate traffic can never trigger an extra retransmission
// or push the retry budget (spec §8 invariant 7).
func (m *getMachine) awaitData() getState {
	d, err := awaitReply(m.ctx, m.sess, getTimeoutMultiplier)
	if err != nil {
		return m.fail(err)
	}
	return m.handleData(d)
}

// handleData classifies one received datagram against AWAIT_DATA_n
// (spec §4.G step 2), regardless of whether it arrived from a fresh
// submit_send or from awaitData's listen-only loop.
func (m *getMachine) handleData(d *datagram) getState {
	switch d.op {
	case opERROR:
		m.sess.finalize(Status{Code: d.errCode, Message: d.errMsg}, nil)
		return nil
	case opDATA:
		switch {
		case d.block == m.expected:
			return m.acceptBlock(d)
		case d.block == m.lastAcked:
			// Duplicate of the block we most recently ACKed: the
			// server never saw that ACK, so resend it rather than
			// silently dropping the retransmit (spec §9). This is a
			// genuine new send, so it goes through sendAndAwaitReply,
			// not the listen-only awaitData loop.
			m.sess.log.debug("re-acking duplicate block %d", d.block)
			m.sess.sendBuf = encodeAck(m.lastAcked)
			m.sess.lastOpcode = opACK
			nd, err := sendAndAwaitReply(m.ctx, m.sess, getTimeoutMultiplier)
			if err != nil {
				return m.fail(err)
			}
			return m.handleData(nd)
		default:
			// Any other stale/out-of-order block: ignore and keep
			// waiting for the one we expect.
			return m.awaitData
		}
	default:
		return m.awaitData
	}
}

// acceptBlock implements spec §4.G's "matching block" branch: decode,
// append to the temp file, ACK it, and either continue or move to the
// terminal grace sequence.
func (m *getMachine) acceptBlock(d *datagram) getState {
	payload := d.payload
	if m.dec != nil {
		payload = m.dec.Decode(payload)
	}
	if len(payload) > 0 {
		if _, err := m.sess.file.Write(payload); err != nil {
			m.sess.finalize(Status{}, wrapError(err, "writing temp file"))
			return nil
		}
	}

	terminal := len(d.payload) < blockSize
	m.lastAcked = d.block
	m.expected = d.block + 1
	m.sess.sendBuf = encodeAck(d.block)
	m.sess.lastOpcode = opACK
	m.sess.retries = 0
	m.sess.stats.update(nowFunc())

	if !terminal {
		nd, err := sendAndAwaitReply(m.ctx, m.sess, getTimeoutMultiplier)
		if err != nil {
			return m.fail(err)
		}
		return m.handleData(nd)
	}

	if m.dec != nil {
		if tail := m.dec.Flush(); len(tail) > 0 {
			if _, err := m.sess.file.Write(tail); err != nil {
				m.sess.finalize(Status{}, wrapError(err, "writing temp file"))
				return nil
			}
		}
	}
	return m.finishTerminal
}

// finishTerminal sends the final ACK and closes the temp file before
// entering the grace wait (spec §4.G step 3). This send is a one-shot
// notification, not the start of a retry cycle — grace arms its own
// deadline — so it goes straight to the socket rather than through
// submitSend.
func (m *getMachine) finishTerminal() getState {
	rd := retryDriver{conn: m.sess.netConn}
	if err := rd.write(m.sess.sendBuf, m.sess.peerAddr); err != nil {
		m.sess.finalize(Status{}, err)
		return nil
	}
	if err := m.sess.file.Close(); err != nil {
		m.sess.finalize(Status{}, wrapError(err, "closing temp file"))
		return nil
	}
	m.sess.file = nil
	return m.grace
}

// grace waits up to getGraceMultiplier*avg_rtt for the server to
// retransmit the terminal block, which would mean our final ACK was
// lost; if so it resends the ACK and keeps watching, bounded by
// maxRetries rounds. Grace-timer expiry (the common case) and
// exhausting the round budget both lead to completion — an unanswered
// grace period is success, not failure (spec §4.G, §9).
func (m *getMachine) grace() getState {
	if m.graceRounds >= maxRetries {
		return m.complete
	}

	rd := retryDriver{conn: m.sess.netConn}
	timeout := m.sess.stats.avgRTT * getGraceMultiplier
	if err := rd.arm(timeout); err != nil {
		m.sess.finalize(Status{}, err)
		return nil
	}
	n, addr, err := rd.recv(m.ctx, m.sess.recvBuf)
	if err != nil {
		if errors.Is(err, errTimerFired) {
			return m.complete
		}
		m.sess.finalize(Status{}, err)
		return nil
	}

	if !addrEqual(addr, m.sess.peerAddr) {
		_ = rd.write(encodeError(ErrCodeUnknownTransferID, "unknown transfer ID"), addr)
		return m.grace
	}
	m.graceRounds++

	d, derr := decode(m.sess.recvBuf[:n])
	if derr == nil && d.op == opDATA && d.block == m.lastAcked {
		if err := rd.write(m.sess.sendBuf, addr); err != nil {
			m.sess.finalize(Status{}, err)
			return nil
		}
	}
	return m.grace
}

// complete renames the temp file into place and finalizes success
// (spec §4.G step 4, §6's persisted-state layout).
func (m *getMachine) complete() getState {
	if err := os.Rename(m.sess.tempLocal, m.sess.finalLocal); err != nil {
		m.sess.finalize(Status{}, wrapError(err, "renaming temp file to final path"))
		return nil
	}
	m.sess.tempLocal = ""
	m.sess.finalize(Status{}, nil)
	return nil
}

func (m *getMachine) fail(err error) getState {
	var se *statusError
	if errors.As(err, &se) {
		m.sess.finalize(se.status, nil)
	} else {
		m.sess.finalize(Status{}, err)
	}
	return nil
}
