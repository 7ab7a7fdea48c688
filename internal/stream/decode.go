package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/asticode/go-astiav"
)

const (
	pcmSampleRate = 48000
	pcmChannels   = 2
)

// pcmStream decodes an artifact into interleaved s16le stereo 48 kHz
// PCM on Reader(). The decode loop runs on its own goroutine and the
// reader side sees io.EOF once the input drains.
type pcmStream struct {
	fc       *astiav.FormatContext
	audio    *astiav.Stream
	decCtx   *astiav.CodecContext
	swr      *astiav.SoftwareResampleContext
	srcFrame *astiav.Frame
	dstFrame *astiav.Frame
	cancel   context.CancelFunc

	pr *io.PipeReader
	pw *io.PipeWriter

	closeOnce sync.Once
}

func newPCMStream(ctx context.Context, input string, seekSec int64) (*pcmStream, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("alloc format context")
	}

	dict := astiav.NewDictionary()
	defer dict.Free()
	_ = dict.Set("reconnect", "1", 0)
	_ = dict.Set("reconnect_streamed", "1", 0)
	_ = dict.Set("reconnect_delay_max", "5", 0)

	if err := fc.OpenInput(input, nil, dict); err != nil {
		fc.Free()
		return nil, fmt.Errorf("open input: %w", err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	st, codec, err := fc.FindBestStream(astiav.MediaTypeAudio, -1, -1)
	if err != nil || st == nil || codec == nil {
		fc.CloseInput()
		fc.Free()
		if err != nil {
			return nil, fmt.Errorf("find audio stream: %w", err)
		}
		return nil, errors.New("no audio stream")
	}

	decCtx := astiav.AllocCodecContext(codec)
	if decCtx == nil {
		fc.CloseInput()
		fc.Free()
		return nil, errors.New("alloc codec context")
	}
	if err := decCtx.FromCodecParameters(st.CodecParameters()); err == nil {
		decCtx.SetTimeBase(st.TimeBase())
		err = decCtx.Open(codec, nil)
	}
	if err != nil {
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("open decoder: %w", err)
	}

	swr := astiav.AllocSoftwareResampleContext()
	srcFrame := astiav.AllocFrame()
	dstFrame := astiav.AllocFrame()
	if swr == nil || srcFrame == nil || dstFrame == nil {
		if srcFrame != nil {
			srcFrame.Free()
		}
		if dstFrame != nil {
			dstFrame.Free()
		}
		if swr != nil {
			swr.Free()
		}
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return nil, errors.New("alloc resampler")
	}

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(ctx)
	s := &pcmStream{
		fc:       fc,
		audio:    st,
		decCtx:   decCtx,
		swr:      swr,
		srcFrame: srcFrame,
		dstFrame: dstFrame,
		cancel:   cancel,
		pr:       pr,
		pw:       pw,
	}
	go s.run(ctx, seekSec)
	return s, nil
}

func (s *pcmStream) Reader() io.Reader { return s.pr }

func (s *pcmStream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.pr.Close()
		s.srcFrame.Free()
		s.dstFrame.Free()
		s.swr.Free()
		s.decCtx.Free()
		s.fc.CloseInput()
		s.fc.Free()
	})
}

func (s *pcmStream) run(ctx context.Context, seekSec int64) {
	var runErr error
	defer func() { _ = s.pw.CloseWithError(runErr) }()

	if seekSec > 0 {
		tb := s.audio.TimeBase()
		ts := int64(float64(seekSec) / tb.Float64())
		if err := s.fc.SeekFrame(s.audio.Index(), ts, astiav.NewSeekFlags()); err == nil {
			_ = s.fc.Flush()
		}
	}

	packet := astiav.AllocPacket()
	defer packet.Free()

	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			return
		default:
		}

		packet.Unref()
		if err := s.fc.ReadFrame(packet); err != nil {
			if astErr, ok := err.(astiav.Error); ok && astErr.Is(astiav.ErrEof) {
				_ = s.decCtx.SendPacket(nil)
				_ = s.drainDecoder()
				return
			}
			if astErr, ok := err.(astiav.Error); ok && astErr.Is(astiav.ErrEagain) {
				continue
			}
			runErr = fmt.Errorf("read frame: %w", err)
			return
		}
		if packet.StreamIndex() != s.audio.Index() {
			continue
		}

		if err := s.decCtx.SendPacket(packet); err != nil {
			if astErr, ok := err.(astiav.Error); !ok || !astErr.Is(astiav.ErrEagain) {
				runErr = fmt.Errorf("send packet: %w", err)
				return
			}
		}
		if err := s.drainDecoder(); err != nil {
			runErr = err
			return
		}
	}
}

func (s *pcmStream) drainDecoder() error {
	for {
		s.srcFrame.Unref()
		if err := s.decCtx.ReceiveFrame(s.srcFrame); err != nil {
			if astErr, ok := err.(astiav.Error); ok && (astErr.Is(astiav.ErrEagain) || astErr.Is(astiav.ErrEof)) {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}
		if err := s.resampleAndWrite(s.srcFrame); err != nil {
			return err
		}
	}
}

func (s *pcmStream) resampleAndWrite(src *astiav.Frame) error {
	s.dstFrame.Unref()
	s.dstFrame.SetNbSamples(src.NbSamples())
	s.dstFrame.SetChannelLayout(astiav.ChannelLayoutStereo)
	s.dstFrame.SetSampleRate(pcmSampleRate)
	s.dstFrame.SetSampleFormat(astiav.SampleFormatS16)
	if err := s.dstFrame.AllocBuffer(0); err != nil {
		return fmt.Errorf("alloc pcm buffer: %w", err)
	}
	if err := s.swr.ConvertFrame(src, s.dstFrame); err != nil {
		return fmt.Errorf("resample: %w", err)
	}
	b, err := s.dstFrame.Data().Bytes(0)
	if err != nil {
		return fmt.Errorf("pcm bytes: %w", err)
	}
	_, err = s.pw.Write(b)
	return err
}
