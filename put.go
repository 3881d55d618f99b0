// Copyright (C) 2017 Kale Blankenship. All rights reserved.
// This software may be modified and distributed under the terms
// of the MIT license.  See the LICENSE file for details

package tftp

import (
	"context"
	"errors"
)

// putTimeoutMultiplier is PUT's retransmit timer multiplier (spec
// §4.E: "PUT uses 2*avg_rtt per retry").
const putTimeoutMultiplier = 2

// statusError carries a terminal protocol-level Status through the
// error-return plumbing so a single helper can report either "finalize
// with this Status" or "finalize with this transport error" (spec §7:
// transport/local-I/O failures surface as error, Status is reserved
// for protocol outcomes and the local timeout).
type statusError struct{ status Status }

func (e *statusError) Error() string { return e.status.String() }

// errInvalidResponse is spec §7's short/truncated-datagram case.
func errInvalidResponse() error {
	return &statusError{Status{Code: ErrCodeIllegalOperation, Message: "Invalid server response."}}
}

// errTimedOut is spec §4.E/§6's retry-budget-exhausted case.
func errTimedOut() error {
	return &statusError{Status{Code: 0, Message: "Timed out"}}
}

// putState is the teacher's own state-machine shape (conn.go's
// `type stateType func() stateType`), generalized from windowed TFTP
// to spec §4.F's plain stop-and-wait PUT.
type putState func() putState

type putMachine struct {
	sess *session
	ctx  context.Context
	src  *blockSource

	lastPayloadLen int
}

// runPut drives a PUT transfer to completion: WRQ -> ACK(0) -> loop
// { read+encode block n -> DATA(n) -> ACK(n) } until a short block,
// per spec §4.F.
func runPut(ctx context.Context, sess *session) (Status, error) {
	m := &putMachine{
		sess: sess,
		ctx:  ctx,
		src:  newBlockSource(sess.file, sess.mode),
	}
	for state := m.init; state != nil; {
		state = m.barrier(state)
	}
	return sess.result, sess.resultErr
}

// barrier wraps one state-machine step in the fault barrier spec
// §4.H/§7 describes: a panic inside a step (this implementation's
// equivalent of the original's bad_alloc / arbitrary throw) is caught,
// cleanup runs, and the transfer finalizes with the matching error
// code instead of crashing the caller.
func (m *putMachine) barrier(state putState) (next putState) {
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

func (m *putMachine) init() putState {
	req := encodeWriteRequest(m.sess.targetRemote, m.sess.mode)
	m.sess.sendBuf = req
	m.sess.lastOpcode = opWRQ
	m.sess.log.trace("sending WRQ for %q", m.sess.targetRemote)

	d, err := sendAndAwaitReply(m.ctx, m.sess, putTimeoutMultiplier)
	if err != nil {
		return m.fail(err)
	}
	return m.handleAck(d)
}

// awaitAck implements AWAIT_ACK0 / AWAIT_ACK_n's self-loop for a
// duplicate/late ACK or an unrelated opcode (spec §4.F: "ignore and
// re-submit_recv"). It only listens — awaitReply, not
// sendAndAwaitReply — so a stream of duplicates can never trigger an
// extra retransmission or push the retry budget (spec §8 invariant 7).
func (m *putMachine) awaitAck() putState {
	d, err := awaitReply(m.ctx, m.sess, putTimeoutMultiplier)
	if err != nil {
		return m.fail(err)
	}
	return m.handleAck(d)
}

// handleAck classifies one received datagram against AWAIT_ACK0 /
// AWAIT_ACK_n (spec §4.F step 2), regardless of whether it arrived
// from a fresh submit_send or from awaitAck's listen-only loop.
func (m *putMachine) handleAck(d *datagram) putState {
	switch d.op {
	case opERROR:
		m.sess.finalize(Status{Code: d.errCode, Message: d.errMsg}, nil)
		return nil
	case opACK:
		if d.block != m.sess.lastBlock {
			// Duplicate/late ACK for a block we've moved past, or an
			// ACK that arrived before the one we expect: ignore and
			// keep waiting (spec §4.F).
			return m.awaitAck
		}
		m.sess.retries = 0
		m.sess.stats.update(nowFunc())
		// ACK(0) answers the WRQ, not a DATA block: only a short DATA
		// payload ends the transfer.
		if m.sess.lastOpcode == opDATA && m.lastPayloadLen < blockSize {
			m.sess.finalize(Status{}, nil)
			return nil
		}
		return m.sendBlock
	default:
		// DATA or any other opcode: ignore, keep waiting.
		return m.awaitAck
	}
}

// sendBlock implements SEND_BLOCK_n (spec §4.F step 3).
func (m *putMachine) sendBlock() putState {
	payload, _, err := m.src.next()
	if err != nil {
		m.sess.finalize(Status{}, wrapError(err, "reading local file"))
		return nil
	}

	block := m.sess.lastBlock + 1
	m.sess.lastBlock = block
	m.sess.lastOpcode = opDATA
	m.sess.sendBuf = encodeData(block, payload)
	m.lastPayloadLen = len(payload)

	d, err := sendAndAwaitReply(m.ctx, m.sess, putTimeoutMultiplier)
	if err != nil {
		return m.fail(err)
	}
	return m.handleAck(d)
}

func (m *putMachine) fail(err error) putState {
	var se *statusError
	if errors.As(err, &se) {
		m.sess.finalize(se.status, nil)
	} else {
		m.sess.finalize(Status{}, err)
	}
	return nil
}

// errOutOfMemory is never produced by this implementation (Go has no
// catchable allocation-failure signal the way C++'s bad_alloc is);
// it exists so barrier's panic classification has a concrete sentinel
// to check with errors.Is, matching the original's two-way split
// between "not enough memory" and "state not recoverable"
// (original_source/include/tftp/impl/tftp_impl.hpp, detail::try_with).
var errOutOfMemory = errors.New("tftp: allocation failed")
