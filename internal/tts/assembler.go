// Package tts assembles broadcast audio: it cleans the script, splits it
// into synthesis-sized chunks, renders each chunk through a speech backend,
// stitches the pieces with short cross-fades, and packages the result.
package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"loopcast/internal/logger"
)

// crossfadeMs is the overlap blended between consecutive chunks.
const crossfadeMs = 50

// Episode audio as delivered: encoded bytes plus the container they ended
// up in (mp3, or wav when transcoding failed).
type Audio struct {
	Data        []byte
	Format      string
	DurationSec float64
}

// Assembler renders a full script into one audio file.
type Assembler struct {
	synth   Synthesizer
	workDir string
	ffmpeg  string
}

// NewAssembler creates an assembler writing intermediate files under
// workDir. ffmpegBinary may be empty to use the one on PATH.
func NewAssembler(synth Synthesizer, workDir, ffmpegBinary string) *Assembler {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Assembler{synth: synth, workDir: workDir, ffmpeg: ffmpegBinary}
}

// Render synthesizes the script with the given voice reference and returns
// the packaged audio. An empty cleaned script is an error.
func (a *Assembler) Render(ctx context.Context, script, voiceRef string) (*Audio, error) {
	cleaned := CleanScript(script)
	chunks := splitChunks(cleaned)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("script is empty after cleaning")
	}
	logger.Info("rendering audio", "chunks", len(chunks), "script_runes", len([]rune(cleaned)))

	var stitched []float32
	rate := 0
	for i, chunk := range chunks {
		samples, r, err := a.synth.Synthesize(ctx, chunk, voiceRef)
		if err != nil {
			return nil, fmt.Errorf("synthesis of chunk %d/%d failed: %w", i+1, len(chunks), err)
		}
		if rate == 0 {
			rate = r
		} else if r != rate {
			return nil, fmt.Errorf("sample rate changed mid-render: %d then %d", rate, r)
		}
		stitched = appendCrossfaded(stitched, samples, rate)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("synthesizer reported invalid sample rate %d", rate)
	}

	duration := float64(len(stitched)) / float64(rate)
	data, format, err := a.pack(ctx, stitched, rate)
	if err != nil {
		return nil, err
	}
	logger.Info("audio rendered", "format", format, "duration_sec", fmt.Sprintf("%.1f", duration))
	return &Audio{Data: data, Format: format, DurationSec: duration}, nil
}

// appendCrossfaded joins next onto acc, blending a crossfadeMs overlap with
// a linear fade. Chunks shorter than the window are spliced hard.
func appendCrossfaded(acc, next []float32, rate int) []float32 {
	if len(acc) == 0 {
		return append(acc, next...)
	}
	window := rate * crossfadeMs / 1000
	if window > len(acc) || window > len(next) {
		return append(acc, next...)
	}

	tail := len(acc) - window
	for i := 0; i < window; i++ {
		t := float32(i+1) / float32(window+1)
		acc[tail+i] = acc[tail+i]*(1-t) + next[i]*t
	}
	return append(acc, next[window:]...)
}

// pack writes the samples as 16-bit mono WAV and transcodes to MP3. When
// ffmpeg fails the WAV itself is delivered.
func (a *Assembler) pack(ctx context.Context, samples []float32, rate int) ([]byte, string, error) {
	if err := os.MkdirAll(a.workDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create work dir: %w", err)
	}
	base := filepath.Join(a.workDir, uuid.NewString())
	wavPath := base + ".wav"
	mp3Path := base + ".mp3"
	defer func() {
		_ = os.Remove(wavPath)
		_ = os.Remove(mp3Path)
	}()

	if err := writeWAV(wavPath, samples, rate); err != nil {
		return nil, "", err
	}

	cmd := exec.CommandContext(ctx, a.ffmpeg, "-y", "-i", wavPath, "-codec:a", "libmp3lame", "-qscale:a", "4", mp3Path)
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.Warn("mp3 transcode failed, delivering wav", "error", err.Error(), "output", tailOf(string(out)))
		data, rerr := os.ReadFile(wavPath)
		if rerr != nil {
			return nil, "", fmt.Errorf("failed to read wav after transcode failure: %w", rerr)
		}
		return data, "wav", nil
	}

	data, err := os.ReadFile(mp3Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read transcoded mp3: %w", err)
	}
	return data, "mp3", nil
}

func writeWAV(path string, samples []float32, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	defer func() { _ = f.Close() }()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}

func tailOf(s string) string {
	s = strings.TrimSpace(s)
	const keep = 300
	if len(s) <= keep {
		return s
	}
	return s[len(s)-keep:]
}
