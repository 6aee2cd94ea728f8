package logtap

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/oilcrest/lbbs/internal/transform"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	sv, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() { _ = unix.Close(sv[1]) })
	return sv[0], sv[1]
}

func writeFD(t *testing.T, fd int, p []byte) {
	t.Helper()
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err != nil {
			t.Fatalf("write fd: %v", err)
		}
		p = p[n:]
	}
}

func readFD(t *testing.T, fd int, n int) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		c, err := unix.Read(fd, buf)
		if err != nil {
			t.Fatalf("read fd: %v", err)
		}
		if c == 0 {
			t.Fatal("unexpected EOF")
		}
		out = append(out, buf[:c]...)
	}
	return out
}

func TestLogTap_TeesBothDirections(t *testing.T) {
	dir := t.TempDir()
	fd, peer := socketpair(t)

	reg := transform.NewRegistry()
	if err := Register(reg, nil, Config{Sink: "file", File: FileConfig{Dir: dir}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	set := transform.NewSet(reg)
	fds := transform.FDPair{RFD: fd, WFD: fd}
	if err := set.Setup(transform.KindLogging, transform.Bidirectional, &fds, "node42"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// outbound passes through unchanged
	writeFD(t, fds.WFD, []byte("hello "))
	if got := readFD(t, peer, 6); string(got) != "hello " {
		t.Fatalf("outbound = %q, want %q", got, "hello ")
	}

	// inbound passes through unchanged
	writeFD(t, peer, []byte("world"))
	if got := readFD(t, fds.RFD, 5); string(got) != "world" {
		t.Fatalf("inbound = %q, want %q", got, "world")
	}

	set.TeardownAll()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read tap dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("tap files = %d, want 1", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "node42-") {
		t.Fatalf("tap file %q does not carry the session label", entries[0].Name())
	}
	transcript, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !bytes.Contains(transcript, []byte("hello ")) || !bytes.Contains(transcript, []byte("world")) {
		t.Fatalf("transcript = %q, missing tapped traffic", transcript)
	}
}

func TestLogTap_UnknownSinkFailsSetup(t *testing.T) {
	fd, _ := socketpair(t)

	reg := transform.NewRegistry()
	if err := Register(reg, nil, Config{Sink: "carrier-pigeon"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	set := transform.NewSet(reg)
	fds := transform.FDPair{RFD: fd, WFD: fd}
	if err := set.Setup(transform.KindLogging, transform.Bidirectional, &fds, nil); err == nil {
		t.Fatal("setup with unknown sink succeeded")
	}
	if n := len(set.ActiveNames()); n != 0 {
		t.Fatalf("active transformations = %d after failed setup, want 0", n)
	}
}
