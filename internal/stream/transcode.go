package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// Transcoder turns an artifact into a sequence of 20 ms Opus packets.
// NextPacket returns io.EOF once the input is fully consumed.
type Transcoder struct {
	pcm     *pcmStream
	enc     *opusEncoder
	reader  *bufio.Reader
	buf     []byte
	pending [][]byte
	flushed bool
}

// NewTranscoder opens input and starts decoding at seekSec.
func NewTranscoder(ctx context.Context, input string, seekSec int64) (*Transcoder, error) {
	pcm, err := newPCMStream(ctx, input, seekSec)
	if err != nil {
		return nil, err
	}
	enc, err := newOpusEncoder()
	if err != nil {
		pcm.Close()
		return nil, err
	}
	return &Transcoder{
		pcm:    pcm,
		enc:    enc,
		reader: bufio.NewReaderSize(pcm.Reader(), 64*1024),
		buf:    make([]byte, enc.frameBytes()),
	}, nil
}

func (t *Transcoder) Close() {
	t.enc.Close()
	t.pcm.Close()
}

// NextPacket returns the next Opus packet, blocking on the decoder as
// needed.
func (t *Transcoder) NextPacket() ([]byte, error) {
	for len(t.pending) == 0 {
		if t.flushed {
			return nil, io.EOF
		}
		if err := t.fill(); err != nil {
			return nil, err
		}
	}
	pkt := t.pending[0]
	t.pending = t.pending[1:]
	return pkt, nil
}

func (t *Transcoder) fill() error {
	collect := func(pkt []byte) error {
		cp := make([]byte, len(pkt))
		copy(cp, pkt)
		t.pending = append(t.pending, cp)
		return nil
	}

	n, err := io.ReadFull(t.reader, t.buf)
	switch err {
	case nil:
		return t.enc.encode(t.buf, collect)
	case io.ErrUnexpectedEOF:
		// Pad the trailing partial frame with silence.
		for i := n; i < len(t.buf); i++ {
			t.buf[i] = 0
		}
		if err := t.enc.encode(t.buf, collect); err != nil {
			return err
		}
		t.flushed = true
		return t.enc.flush(collect)
	case io.EOF:
		t.flushed = true
		return t.enc.flush(collect)
	default:
		return fmt.Errorf("read pcm: %w", err)
	}
}
