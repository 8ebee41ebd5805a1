package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// ErrNotWAV is returned by Inspect for payloads without a valid RIFF/WAVE header
var ErrNotWAV = errors.New("payload is not a WAV file")

// WAVInfo describes a synthesized WAV payload
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	DataBytes  int64
	Duration   time.Duration
}

// Inspect reads the WAV header of payload.
// Streaming backends sometimes write a placeholder data size; in that case
// the PCM length is derived from the payload length instead.
func Inspect(payload []byte) (WAVInfo, error) {
	dec := wav.NewDecoder(bytes.NewReader(payload))
	if !dec.IsValidFile() {
		return WAVInfo{}, ErrNotWAV
	}

	info := WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}

	if err := dec.FwdToPCM(); err != nil {
		return info, fmt.Errorf("failed to locate PCM data: %w", err)
	}
	info.DataBytes = dec.PCMLen()

	// 44 bytes is the canonical header; anything beyond the payload is a placeholder
	maxData := max(int64(len(payload))-44, 0)
	if info.DataBytes <= 0 || info.DataBytes > maxData {
		info.DataBytes = maxData
	}

	bytesPerSecond := int64(info.SampleRate) * int64(info.Channels) * int64(info.BitDepth) / 8
	if bytesPerSecond > 0 && info.DataBytes > 0 {
		info.Duration = time.Duration(info.DataBytes * int64(time.Second) / bytesPerSecond)
	}
	return info, nil
}
