// Copyright (C) 2017 Kale Blankenship. All rights reserved.
// This software may be modified and distributed under the terms
// of the MIT license.  See the LICENSE file for details

package tftp

import (
	"context"
	"errors"
	"net"
	"time"
)

// retryDriver implements the single-outstanding-timer discipline of
// spec §4.E over a *net.UDPConn. Rather than a separate timer-wheel
// goroutine racing the socket read (the abstraction spec §6 keeps
// external to the core), arming the timer and waiting for it to fire
// are the same operation: a read deadline on the blocking recv. There
// is never more than one armed deadline because SetReadDeadline
// replaces whatever deadline was previously set — spec §8 invariant
// 2 ("at most one timer armed") holds structurally, not by
// bookkeeping.
type retryDriver struct {
	conn *net.UDPConn
}

// submitSend dispatches payload to addr and arms the retransmit timer
// for timeout (spec §4.E's submit_send: "cancel any existing timer;
// dispatch...; arm a new timer" — SetReadDeadline both cancels the
// old deadline and arms the new one in one call). Only genuine sends
// that own the retransmit cycle for sess.sendBuf go through this; a
// datagram that is not part of that cycle (an UnknownTransferID reply
// to an off-path sender) must use write instead, so it never arms or
// extends the timer.
func (r retryDriver) submitSend(payload []byte, addr net.Addr, timeout time.Duration) error {
	if _, err := r.conn.WriteTo(payload, addr); err != nil {
		return err
	}
	return r.conn.SetReadDeadline(time.Now().Add(timeout))
}

// write dispatches payload to addr without touching the retransmit
// deadline.
func (r retryDriver) write(payload []byte, addr net.Addr) error {
	_, err := r.conn.WriteTo(payload, addr)
	return err
}

// arm sets the read deadline without sending anything — used where
// the wait's period does not correspond to resending our own
// datagram, such as GET's post-final-ACK grace window.
func (r retryDriver) arm(timeout time.Duration) error {
	return r.conn.SetReadDeadline(time.Now().Add(timeout))
}

// recv waits for one datagram against whatever deadline submitSend
// most recently armed (spec §4.E's submit_recv: re-arm the listen,
// not the timer). A timeout is reported via errTimerFired so the
// caller can distinguish it from a hard transport failure.
func (r retryDriver) recv(ctx context.Context, buf []byte) (n int, addr net.Addr, err error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	n, addr, err = r.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil, errTimerFired
		}
		return 0, nil, err
	}
	return n, addr, nil
}

// errTimerFired signals that the armed timer elapsed with no
// datagram received — spec §4.E's "on timer fire" branch.
var errTimerFired = errors.New("tftp: retransmit timer fired")

// sendAndAwaitReply performs one submit_send of sess.sendBuf followed
// by awaitReply (spec §4.F/§4.G's "submit_send; submit_recv" pair,
// used at INIT, SEND_BLOCK_n, GET's non-terminal ACKs and GET's
// re-ACK of a duplicate block — the transitions that own a genuine new
// datagram to put on the wire). GET's terminal ACK does not use it; see
// getMachine.finishTerminal.
func sendAndAwaitReply(ctx context.Context, sess *session, multiplier int) (*datagram, error) {
	rd := retryDriver{conn: sess.netConn}
	timeout := sess.stats.avgRTT * time.Duration(multiplier)
	if err := rd.submitSend(sess.sendBuf, sess.peerAddr, timeout); err != nil {
		return nil, err
	}
	return awaitReply(ctx, sess, multiplier)
}

// awaitReply implements submit_recv on its own: listen for the next
// datagram without sending anything first. Spec §4.F/§4.G's "ignore
// and re-submit_recv" transitions (a duplicate/late ACK or DATA, or
// any datagram this state does not expect) call this directly rather
// than sendAndAwaitReply, so ignoring one never produces an extra
// retransmission or pushes the retransmit deadline out — spec §8
// invariant 7 ("no more than MAX_RETRIES retransmissions of any one
// packet") only has to account for the timer-fire retries this
// function itself performs, not for however much duplicate or
// off-path traffic arrives in between.
//
// A timer fire here is still a genuine retry: it resends the most
// recent datagram and counts against sess.retries, identically to
// sendAndAwaitReply's own first wait. An off-path datagram (wrong,
// already-bound TID) gets an UnknownTransferID reply via the
// deadline-preserving write, not submitSend, and does not touch
// sess.retries either.
func awaitReply(ctx context.Context, sess *session, multiplier int) (*datagram, error) {
	rd := retryDriver{conn: sess.netConn}
	for {
		n, addr, err := rd.recv(ctx, sess.recvBuf)
		if err != nil {
			if errors.Is(err, errTimerFired) {
				if retryOnTimer(&sess.retries) {
					return nil, errTimedOut()
				}
				sess.log.debug("retransmitting %s (retry %d/%d)", sess.lastOpcode, sess.retries, maxRetries)
				timeout := sess.stats.avgRTT * time.Duration(multiplier)
				if err := rd.submitSend(sess.sendBuf, sess.peerAddr, timeout); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		if sess.tidLocked && !addrEqual(addr, sess.peerAddr) {
			// Off-path datagram: tell the wrong sender and keep
			// listening on the deadline already armed, without
			// resetting the retry budget (spec §9).
			sess.log.debug("rejecting datagram from unbound TID %s", addr)
			_ = rd.write(encodeError(ErrCodeUnknownTransferID, "unknown transfer ID"), addr)
			continue
		}

		sess.bindPeer(addr)

		d, derr := decode(sess.recvBuf[:n])
		if derr != nil {
			return nil, errInvalidResponse()
		}
		return d, nil
	}
}

// addrEqual compares two net.Addr values by their UDP network address
// (IP and port), not by pointer or string identity.
func addrEqual(a, b net.Addr) bool {
	ua, ok1 := a.(*net.UDPAddr)
	ub, ok2 := b.(*net.UDPAddr)
	if !ok1 || !ok2 {
		return a.String() == b.String()
	}
	return ua.IP.Equal(ub.IP) && ua.Port == ub.Port
}

// retryOnTimer implements spec §4.E's "on timer fire" rule: if the
// retry budget is exhausted, the caller should finalize
// Status{0,"Timed out"}; otherwise it should increment retries and
// resubmit the most recent datagram. retryOnTimer only tracks the
// counter and reports which branch applies — resubmission is the
// caller's business since PUT and GET resend different payloads.
func retryOnTimer(retries *int) (exhausted bool) {
	if *retries >= maxRetries {
		return true
	}
	*retries++
	return false
}
