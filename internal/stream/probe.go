// Package stream decodes local media artifacts and encodes them into
// 20 ms Opus packets for the voice transport.
package stream

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
)

// FormatContext durations are in AV_TIME_BASE units.
const avTimeBase = 1_000_000

// Info is what a container probe reveals about an artifact.
type Info struct {
	DurationSec int64
	HasAudio    bool
	HasVideo    bool
}

// Probe opens path and inspects its streams without decoding.
func Probe(path string) (Info, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return Info{}, errors.New("alloc format context")
	}
	defer fc.Free()

	if err := fc.OpenInput(path, nil, nil); err != nil {
		return Info{}, fmt.Errorf("open input: %w", err)
	}
	defer fc.CloseInput()

	if err := fc.FindStreamInfo(nil); err != nil {
		return Info{}, fmt.Errorf("find stream info: %w", err)
	}

	var info Info
	if d := fc.Duration(); d > 0 {
		info.DurationSec = d / avTimeBase
	}
	for _, st := range fc.Streams() {
		switch st.CodecParameters().MediaType() {
		case astiav.MediaTypeAudio:
			info.HasAudio = true
		case astiav.MediaTypeVideo:
			info.HasVideo = true
		}
	}
	return info, nil
}
