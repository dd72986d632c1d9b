// Package audio shells out to ffmpeg for voice-note transcoding and
// waveform extraction. Both operations degrade gracefully: callers treat
// failures as "send the original, skip the waveform".
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// waveform peaks are only computed for clips up to this long.
	maxWaveformDuration = 5 * time.Minute

	minPeaks = 8
	maxPeaks = 256
)

// TranscodeToVoice converts any input into the mono 16 kHz Opus profile
// WhatsApp renders as a voice note. Returns the output path.
func TranscodeToVoice(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libopus",
		"-b:a", "48k",
		"-application", "voip",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logrus.WithError(err).WithField("stderr", truncateLog(stderr.String())).
			Warn("[AUDIO] transcode failed")
		return fmt.Errorf("ffmpeg transcode failed: %w", err)
	}
	return nil
}

// Duration probes the clip length via ffprobe.
func Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparseable duration: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Waveform decodes the clip to raw PCM and buckets it into peak values
// in 0..100 for the voice-note scrubber. Peak count scales with clip
// length between 8 and 256. Clips longer than five minutes are skipped.
func Waveform(ctx context.Context, path string) ([]int, error) {
	dur, err := Duration(ctx, path)
	if err != nil {
		return nil, err
	}
	if dur > maxWaveformDuration {
		return nil, nil
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-i", path,
		"-ac", "1",
		"-ar", "8000",
		"-f", "s16le",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logrus.WithError(err).WithField("stderr", truncateLog(stderr.String())).
			Warn("[AUDIO] waveform decode failed")
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	samples := stdout.Bytes()
	return PeaksFromPCM(samples, peakCount(dur)), nil
}

// peakCount maps duration to a peak resolution: roughly four peaks per
// second, clamped to 8..256.
func peakCount(dur time.Duration) int {
	n := int(dur.Seconds() * 4)
	if n < minPeaks {
		return minPeaks
	}
	if n > maxPeaks {
		return maxPeaks
	}
	return n
}

// PeaksFromPCM buckets signed 16-bit little-endian mono samples into n
// peaks scaled 0..100.
func PeaksFromPCM(pcm []byte, n int) []int {
	sampleCount := len(pcm) / 2
	if sampleCount == 0 || n <= 0 {
		return nil
	}
	if n > sampleCount {
		n = sampleCount
	}

	peaks := make([]int, n)
	bucket := sampleCount / n
	maxAbs := 0
	for i := 0; i < n; i++ {
		start := i * bucket
		end := start + bucket
		if i == n-1 {
			end = sampleCount
		}
		peak := 0
		for s := start; s < end; s++ {
			v := int(int16(binary.LittleEndian.Uint16(pcm[s*2:])))
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		peaks[i] = peak
		if peak > maxAbs {
			maxAbs = peak
		}
	}

	if maxAbs == 0 {
		maxAbs = 1
	}
	for i := range peaks {
		peaks[i] = peaks[i] * 100 / maxAbs
	}
	return peaks
}

func truncateLog(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[:300]
	}
	return s
}
