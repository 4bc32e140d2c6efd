package clusterproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteEnvelope writes one length-prefixed envelope frame to w, mirroring
// mumbleproto.EncodeFrame's length-prefix discipline for the client
// control channel.
func WriteEnvelope(w io.Writer, e *Envelope) error {
	_, err := w.Write(EncodeFrame(e))
	return err
}

// ReadEnvelope reads exactly one length-prefixed envelope frame from r,
// the streaming counterpart to the in-memory ReadFrame helper.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	e, err := UnmarshalEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("clusterproto: decode envelope: %w", err)
	}
	return e, nil
}
