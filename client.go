// Copyright (C) 2017 Kale Blankenship. All rights reserved.
// This software may be modified and distributed under the terms
// of the MIT license.  See the LICENSE file for details

package tftp

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
)

const defaultUDPNet = "udp"

// Client configures and dispatches GET/PUT transfers. The zero value
// is not usable; construct one with NewClient.
type Client struct {
	udpNet string
	mode   TransferMode
	log    *logrus.Logger
}

// ClientOption configures a Client, mirroring the teacher's
// functional-option style (tftp.ClientBlocksize, tftp.ClientTimeout,
// ...) minus the options this spec puts out of scope (blocksize,
// windowsize, timeout negotiation — see SPEC_FULL.md's Domain Stack).
type ClientOption func(*Client)

// ClientNetwork selects the UDP network: "udp", "udp4", or "udp6".
func ClientNetwork(network string) ClientOption {
	return func(c *Client) { c.udpNet = network }
}

// ClientMode records a TransferMode on the Client (ModeOctet unless
// set). Get and Put always use the mode passed to them and do not
// fall back to this value, even when that argument is empty.
func ClientMode(mode TransferMode) ClientOption {
	return func(c *Client) { c.mode = mode }
}

// ClientLogger overrides the logrus.Logger transfers log through.
func ClientLogger(l *logrus.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient returns a Client ready to issue transfers.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		udpNet: defaultUDPNet,
		mode:   ModeOctet,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resolve looks up a single UDP-capable address for host:port,
// preferring IPv4 then IPv6 (spec §6's resolve capability). This
// wraps net.ResolveUDPAddr, the external DNS collaborator the core
// treats as an abstract capability.
func (c *Client) resolve(host string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr(c.udpNet, host)
	if err != nil {
		return nil, wrapError(err, "address resolve failed")
	}
	return addr, nil
}

// listen opens an ephemeral local UDP socket for one transfer (spec
// §6: "Client uses an ephemeral local port per transfer").
func (c *Client) listen() (*net.UDPConn, error) {
	conn, err := net.ListenUDP(c.udpNet, &net.UDPAddr{})
	if err != nil {
		return nil, wrapError(err, "network listen failed")
	}
	return conn, nil
}

// Put uploads local to remote on the server at host (host[:port],
// port defaults to 69) using mode. It blocks until the transfer
// reaches a terminal state and returns the protocol Status, or a
// non-nil error for resolution/transport/local-I/O failures that
// never reach the Status taxonomy (spec §7).
func (c *Client) Put(ctx context.Context, host, local, remote string, mode TransferMode) (Status, error) {
	addr, err := c.resolve(withDefaultPort(host))
	if err != nil {
		return Status{}, err
	}
	conn, err := c.listen()
	if err != nil {
		return Status{}, err
	}

	f, err := openForRead(local)
	if err != nil {
		_ = conn.Close()
		return Status{}, wrapError(err, "opening local file for read")
	}

	sess := newSession(c.log, remote, mode, nowFunc())
	sess.netConn = conn
	sess.file = f
	sess.peerAddr = addr

	return runPut(ctx, sess)
}

// Get downloads remote from the server at host (host[:port], port
// defaults to 69) to local using mode. GET with ModeMail is rejected
// at construction (spec §3): MAIL is PUT-only.
func (c *Client) Get(ctx context.Context, host, remote, local string, mode TransferMode) (Status, error) {
	if mode == ModeMail {
		return Status{}, errGetMailMode
	}
	addr, err := c.resolve(withDefaultPort(host))
	if err != nil {
		return Status{}, err
	}
	conn, err := c.listen()
	if err != nil {
		return Status{}, err
	}

	sess := newSession(c.log, remote, mode, nowFunc())
	sess.netConn = conn
	sess.peerAddr = addr
	sess.finalLocal = local

	return runGet(ctx, sess)
}
