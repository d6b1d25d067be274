package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	probeOut  string
	probeErr  error
	ffmpegErr error
	writeOut  []byte
	calls     []call
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if name == "ffprobe" {
		return []byte(f.probeOut), f.probeErr
	}
	if f.ffmpegErr != nil {
		return []byte("Invalid data found when processing input"), f.ffmpegErr
	}
	if f.writeOut != nil {
		if err := os.WriteFile(args[len(args)-1], f.writeOut, 0o600); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeRunner) ffmpegArgs(t *testing.T) []string {
	t.Helper()
	for _, c := range f.calls {
		if c.name == "ffmpeg" {
			return c.args
		}
	}
	t.Fatal("ffmpeg was not invoked")
	return nil
}

func TestMiddleFrame(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(0), MiddleFrame(-1))
	require.Equal(t, int64(0), MiddleFrame(0))
	require.Equal(t, int64(0), MiddleFrame(1))
	require.Equal(t, int64(50), MiddleFrame(101))
	require.Equal(t, int64(60), MiddleFrame(120))
}

func TestFrameCount(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		out  string
		want int64
	}{
		{"nb_frames", `{"streams":[{"nb_frames":"240","nb_read_packets":"240"}]}`, 240},
		{"packets only", `{"streams":[{"nb_frames":"N/A","nb_read_packets":"90"}]}`, 90},
		{"unknown", `{"streams":[{"nb_frames":"N/A"}]}`, 0},
		{"no streams", `{"streams":[]}`, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithRunner("ffmpeg", "ffprobe", &fakeRunner{probeOut: tc.out})
			got, err := g.FrameCount(context.Background(), "/tmp/v.mp4")
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestGrabFrameSelectsMiddle(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "frame.jpg")
	runner := &fakeRunner{
		probeOut: `{"streams":[{"nb_frames":"101"}]}`,
		writeOut: []byte("jpeg"),
	}
	g := NewWithRunner("ffmpeg", "ffprobe", runner)

	require.NoError(t, g.GrabFrame(context.Background(), "/tmp/v.mp4", out))
	args := runner.ffmpegArgs(t)
	require.True(t, slices.Contains(args, `select=eq(n\,50)`), args)
	require.Equal(t, out, args[len(args)-1])
	require.False(t, slices.Contains(args, "-protocol_whitelist"))
}

func TestGrabFrameFallsBackToFirstFrame(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "frame.jpg")
	runner := &fakeRunner{probeErr: errors.New("exit status 1"), writeOut: []byte("jpeg")}
	g := NewWithRunner("ffmpeg", "ffprobe", runner)

	src := "https://video.twimg.com/ext_tw_video/1/pu/pl/master.m3u8?tag=12"
	require.NoError(t, g.GrabFrame(context.Background(), src, out))
	args := runner.ffmpegArgs(t)
	require.True(t, slices.Contains(args, `select=eq(n\,0)`), args)
	require.True(t, slices.Contains(args, "-protocol_whitelist"))
}

func TestGrabFrameFailures(t *testing.T) {
	t.Parallel()

	t.Run("decoder error", func(t *testing.T) {
		t.Parallel()
		g := NewWithRunner("ffmpeg", "ffprobe", &fakeRunner{
			probeOut:  `{"streams":[{"nb_frames":"10"}]}`,
			ffmpegErr: errors.New("exit status 1"),
		})
		err := g.GrabFrame(context.Background(), "/tmp/v.mp4", filepath.Join(t.TempDir(), "f.jpg"))
		require.ErrorContains(t, err, "Invalid data")
	})

	t.Run("no output", func(t *testing.T) {
		t.Parallel()
		g := NewWithRunner("ffmpeg", "ffprobe", &fakeRunner{probeOut: `{"streams":[]}`})
		err := g.GrabFrame(context.Background(), "/tmp/v.mp4", filepath.Join(t.TempDir(), "f.jpg"))
		require.ErrorContains(t, err, "frame output")
	})

	t.Run("empty output", func(t *testing.T) {
		t.Parallel()
		g := NewWithRunner("ffmpeg", "ffprobe", &fakeRunner{probeOut: `{"streams":[]}`, writeOut: []byte{}})
		err := g.GrabFrame(context.Background(), "/tmp/v.mp4", filepath.Join(t.TempDir(), "f.jpg"))
		require.ErrorContains(t, err, "empty")
	})
}
