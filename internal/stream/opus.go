package stream

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// 20 ms at 48 kHz.
const opusFrameSamples = 960

type opusEncoder struct {
	cc     *astiav.CodecContext
	frame  *astiav.Frame
	packet *astiav.Packet
}

func newOpusEncoder() (*opusEncoder, error) {
	codec := astiav.FindEncoderByName("libopus")
	if codec == nil {
		return nil, fmt.Errorf("libopus encoder not found")
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("alloc codec context")
	}
	cc.SetSampleRate(pcmSampleRate)
	cc.SetChannelLayout(astiav.ChannelLayoutStereo)
	cc.SetSampleFormat(astiav.SampleFormatS16)
	cc.SetBitRate(160_000)

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("frame_duration", "20", 0)
	_ = opts.Set("application", "audio", 0)

	if err := cc.Open(codec, opts); err != nil {
		cc.Free()
		return nil, fmt.Errorf("open opus encoder: %w", err)
	}

	frame := astiav.AllocFrame()
	if frame == nil {
		cc.Free()
		return nil, fmt.Errorf("alloc encoder frame")
	}
	frame.SetSampleRate(pcmSampleRate)
	frame.SetChannelLayout(astiav.ChannelLayoutStereo)
	frame.SetSampleFormat(astiav.SampleFormatS16)
	frame.SetNbSamples(opusFrameSamples)
	if err := frame.AllocBuffer(0); err != nil {
		frame.Free()
		cc.Free()
		return nil, fmt.Errorf("alloc frame buffer: %w", err)
	}

	pkt := astiav.AllocPacket()
	if pkt == nil {
		frame.Free()
		cc.Free()
		return nil, fmt.Errorf("alloc encoder packet")
	}
	return &opusEncoder{cc: cc, frame: frame, packet: pkt}, nil
}

func (e *opusEncoder) Close() {
	e.packet.Free()
	e.frame.Free()
	e.cc.Free()
}

// frameBytes is the size of one full PCM frame the encoder consumes.
func (e *opusEncoder) frameBytes() int {
	return opusFrameSamples * pcmChannels * 2
}

// encode consumes exactly one PCM frame and hands every produced Opus
// packet to onPacket.
func (e *opusEncoder) encode(pcm []byte, onPacket func(pkt []byte) error) error {
	if len(pcm) != e.frameBytes() {
		return fmt.Errorf("pcm frame size %d, want %d", len(pcm), e.frameBytes())
	}
	if err := e.frame.Data().SetBytes(pcm, 0); err != nil {
		return fmt.Errorf("set frame bytes: %w", err)
	}
	if err := e.cc.SendFrame(e.frame); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return e.receive(onPacket)
}

// flush drains the encoder at end of input.
func (e *opusEncoder) flush(onPacket func(pkt []byte) error) error {
	if err := e.cc.SendFrame(nil); err != nil {
		if astErr, ok := err.(astiav.Error); ok && astErr.Is(astiav.ErrEof) {
			return nil
		}
		return fmt.Errorf("send flush frame: %w", err)
	}
	return e.receive(onPacket)
}

func (e *opusEncoder) receive(onPacket func(pkt []byte) error) error {
	for {
		e.packet.Unref()
		if err := e.cc.ReceivePacket(e.packet); err != nil {
			if astErr, ok := err.(astiav.Error); ok && (astErr.Is(astiav.ErrEagain) || astErr.Is(astiav.ErrEof)) {
				return nil
			}
			return fmt.Errorf("receive opus packet: %w", err)
		}
		if err := onPacket(e.packet.Data()); err != nil {
			return err
		}
	}
}
