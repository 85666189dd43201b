package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Player handles audio playback of WAV/PCM data via oto.
type Player struct {
	ctx *oto.Context
	log *logger.Logger
}

// NewPlayer creates an audio player. Initializes the system audio context.
// Returns an error if the audio device is unavailable.
func NewPlayer(log *logger.Logger) (*Player, error) {
	op := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: ChannelCount,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan

	log = log.Named("player")
	log.Debug("audio initialized (rate=%d, channels=%d)", SampleRate, ChannelCount)
	return &Player{ctx: ctx, log: log}, nil
}

// Play plays WAV audio data synchronously. Blocks until playback finishes
// or ctx is cancelled; in the latter case it returns ctx.Err().
func (p *Player) Play(ctx context.Context, wavData []byte) error {
	pcm, err := extractPCM(wavData)
	if err != nil {
		return err
	}

	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	p.log.Debug("playing %d bytes of PCM", len(pcm))

	var cancelled error
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			cancelled = ctx.Err()
			p.log.Debug("playback cancelled")
		case <-ticker.C:
		}
		if cancelled != nil {
			break
		}
	}

	if err := player.Close(); err != nil {
		return err
	}
	return cancelled
}

// extractPCM strips the WAV/RIFF header and returns raw PCM data.
func extractPCM(wav []byte) ([]byte, error) {
	if len(wav) < 44 {
		return nil, errors.New("wav data too short")
	}

	// Verify RIFF header.
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("not a valid WAV file")
	}

	// Walk chunks to find the "data" chunk.
	pos := 12
	for pos < len(wav)-8 {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))

		if chunkID == "data" {
			start := pos + 8
			end := start + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			return wav[start:end], nil
		}

		pos += 8 + chunkSize
		// Chunks are word-aligned.
		if chunkSize%2 != 0 {
			pos++
		}
	}

	return nil, errors.New("data chunk not found in WAV")
}
