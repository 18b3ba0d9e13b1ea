package transcoder

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// writeScript installs an executable POSIX shell script standing in for an
// external tool
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("failed to write fake %s: %v", name, err)
	}
	return path
}

// fakeProbe answers the three ffprobe queries
func fakeProbe(t *testing.T, duration, size, audio string) string {
	return writeScript(t, "ffprobe", `case "$*" in
  *format=duration*) echo "`+duration+`" ;;
  *stream=width,height*) echo "`+size+`" ;;
  *stream=index*) printf "`+audio+`" ;;
esac
`)
}

// fakeEncoder prints -stats style progress with carriage returns, records its
// arguments and writes a playlist plus one segment next to the last argument
const fakeEncoderScript = `for last; do :; done
dir=$(dirname "$last")
printf '%s\n' "$@" > "$dir/args.txt"
printf 'frame=10 fps=0 q=28.0 size=1kB time=00:00:15.00 bitrate=1k speed=1x\r' >&2
printf 'frame=11 fps=0 q=28.0 size=1kB time=00:00:15.05 bitrate=1k speed=1x\r' >&2
printf 'frame=20 fps=0 q=28.0 size=1kB time=00:00:30.00 bitrate=1k speed=1x\r' >&2
printf 'frame=40 fps=0 q=28.0 size=1kB time=00:01:00.00 bitrate=1k speed=1x\n' >&2
printf '#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nseg_000.ts\n#EXT-X-ENDLIST\n' > "$last"
echo segment > "$dir/seg_000.ts"
`
