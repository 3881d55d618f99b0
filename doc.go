// Package tftp implements the client side of a TFTP (RFC 1350)
// transfer: the lockstep request/data/ack state machine, its
// retransmission and adaptive-timeout discipline, the netascii
// transfer-mode codec, and the completion orchestrator that drives
// them.
//
// The package does not implement a server, the TFTP option-extension
// RFCs (2347-2349, 7440), or DNS resolution beyond what net.ResolveUDPAddr
// already provides.
package tftp // import "github.com/kcexn/tftp"
