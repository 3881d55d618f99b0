package tftp

import (
	"bytes"
	"io"

	"github.com/kcexn/tftp/netascii"
)

// blockSource reads a local file and hands back 512-byte DATA
// payloads (the terminal one shorter, possibly empty), carrying any NETASCII expansion forward into the
// next block (spec §4.B, §9 "carry-over buffer for NETASCII"). OCTET
// mode is a pass-through with the same chunking; MAIL is sent as
// NETASCII too (spec §1 Non-goals: "MAIL is treated as NETASCII on
// send").
type blockSource struct {
	file    io.Reader
	writer  io.Writer // file bytes flow through this into carry
	flusher interface{ Flush() error } // non-nil only in NETASCII mode
	carry   bytes.Buffer
	raw     []byte
	eof     bool
}

// newBlockSource wraps file for reading in mode.
func newBlockSource(file io.Reader, mode TransferMode) *blockSource {
	b := &blockSource{file: file, raw: make([]byte, blockSize)}
	if mode == ModeNetASCII || mode == ModeMail {
		w := netascii.NewWriter(&b.carry)
		b.writer = w
		b.flusher = w
	} else {
		b.writer = &b.carry
	}
	return b
}

// next returns the next DATA payload (spec §4.F step 3: "read up to
// 512 bytes of encoded payload into send_buffer"). terminal is true
// when len(payload) < blockSize, including 0 — the first short block
// ends the transfer (spec §3, §8 invariant 5).
func (b *blockSource) next() (payload []byte, terminal bool, err error) {
	for b.carry.Len() < blockSize && !b.eof {
		n, rerr := b.file.Read(b.raw)
		if n > 0 {
			if _, werr := b.writer.Write(b.raw[:n]); werr != nil {
				return nil, false, werr
			}
		}
		if rerr == io.EOF {
			b.eof = true
			if b.flusher != nil {
				// A lone CR as the file's final byte is still
				// pending inside the encoder; resolve it now, since
				// no further Write will ever follow.
				if ferr := b.flusher.Flush(); ferr != nil {
					return nil, false, ferr
				}
			}
			break
		}
		if rerr != nil {
			return nil, false, rerr
		}
	}

	payload = append([]byte(nil), b.carry.Next(blockSize)...)
	terminal = len(payload) < blockSize
	return payload, terminal, nil
}
