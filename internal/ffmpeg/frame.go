// Package ffmpeg wraps the ffmpeg and ffprobe binaries to pull still frames
// out of progressive videos and HLS streams.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- binaries resolved via LookPath.
	return cmd.CombinedOutput()
}

// FrameGrabber extracts a single frame from a video source.
type FrameGrabber struct {
	ffmpegPath  string
	ffprobePath string
	run         Runner
}

// New locates ffmpeg and ffprobe in PATH.
func New() (*FrameGrabber, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return NewWithRunner(ffmpegPath, ffprobePath, execRunner{}), nil
}

// NewWithRunner builds a grabber around explicit binary paths and runner.
func NewWithRunner(ffmpegPath, ffprobePath string, run Runner) *FrameGrabber {
	if run == nil {
		run = execRunner{}
	}
	return &FrameGrabber{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, run: run}
}

// FrameCount returns the number of video frames in src, or 0 when the
// container does not say.
func (g *FrameGrabber) FrameCount(ctx context.Context, src string) (int64, error) {
	args := append(inputFlags(src),
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_frames,nb_read_packets",
		"-of", "json",
		src,
	)
	out, err := g.run.Run(ctx, g.ffprobePath, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(out)))
	}

	var parsed struct {
		Streams []struct {
			NbFrames      string `json:"nb_frames"`
			NbReadPackets string `json:"nb_read_packets"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return 0, nil
	}
	s := parsed.Streams[0]
	for _, raw := range []string{s.NbFrames, s.NbReadPackets} {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, nil
}

// GrabFrame decodes the middle frame of src into a JPEG at out. When the
// frame count cannot be determined the first frame is used.
func (g *FrameGrabber) GrabFrame(ctx context.Context, src, out string) error {
	total, err := g.FrameCount(ctx, src)
	if err != nil {
		total = 0
	}
	target := MiddleFrame(total)

	args := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, inputFlags(src)...)
	args = append(args,
		"-i", src,
		"-vf", fmt.Sprintf(`select=eq(n\,%d)`, target),
		"-frames:v", "1",
		"-q:v", "2",
		out,
	)
	if output, err := g.run.Run(ctx, g.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg frame %d: %w: %s", target, err, strings.TrimSpace(string(output)))
	}

	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("frame output: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("frame output is empty")
	}
	return nil
}

// MiddleFrame picks the frame index used as a poster.
func MiddleFrame(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return total / 2
}

func inputFlags(src string) []string {
	if strings.Contains(strings.ToLower(src), ".m3u8") {
		return []string{"-protocol_whitelist", "file,http,https,tcp,tls,crypto"}
	}
	return nil
}
