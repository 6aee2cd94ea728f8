package tlsio

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oilcrest/lbbs/internal/transform"
)

// testCert writes a self-signed certificate and key into a temp dir and
// returns their paths.
func testCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "lbbs.test"},
		DNSNames:     []string{"lbbs.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func socketpair(t *testing.T) (int, net.Conn) {
	t.Helper()
	sv, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	f := os.NewFile(uintptr(sv[1]), "peer")
	conn, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		t.Fatalf("fileconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return sv[0], conn
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

func TestTLS_ServerHandshakeAndRelay(t *testing.T) {
	certFile, keyFile := testCert(t)
	fd, peer := socketpair(t)

	reg := transform.NewRegistry()
	if err := Register(reg, nil, Config{CertFile: certFile, KeyFile: keyFile}); err != nil {
		t.Fatalf("register: %v", err)
	}
	set := transform.NewSet(reg)
	fds := transform.FDPair{RFD: fd, WFD: fd}

	setupErr := make(chan error, 1)
	go func() {
		setupErr <- set.Setup(transform.KindEncryption, transform.Bidirectional, &fds, nil)
	}()

	client := tls.Client(peer, &tls.Config{InsecureSkipVerify: true})
	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-setupErr; err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer set.TeardownAll()

	// client to connection: ciphertext in, plaintext out
	if _, err := client.Write([]byte("ping\r\n")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := readFD(t, fds.RFD, 6); string(got) != "ping\r\n" {
		t.Fatalf("inbound = %q, want %q", got, "ping\r\n")
	}

	// connection to client: plaintext in, ciphertext out
	writeFD(t, fds.WFD, []byte("pong\r\n"))
	got := make([]byte, 6)
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(got) != "pong\r\n" {
		t.Fatalf("outbound = %q, want %q", got, "pong\r\n")
	}

	var version string
	if err := set.Query(transform.KindEncryption, QueryVersion, &version); err != nil {
		t.Fatalf("query version: %v", err)
	}
	if !strings.HasPrefix(version, "TLS") {
		t.Fatalf("version = %q, want a TLS version name", version)
	}
	var suite string
	if err := set.Query(transform.KindEncryption, QueryCipherSuite, &suite); err != nil {
		t.Fatalf("query cipher suite: %v", err)
	}
	if suite == "" {
		t.Fatal("cipher suite query returned an empty name")
	}
}

func TestTLS_BadKeypairFailsSetup(t *testing.T) {
	fd, peer := socketpair(t)

	reg := transform.NewRegistry()
	if err := Register(reg, nil, Config{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	set := transform.NewSet(reg)
	fds := transform.FDPair{RFD: fd, WFD: fd}
	if err := set.Setup(transform.KindEncryption, transform.Bidirectional, &fds, nil); err == nil {
		t.Fatal("setup with a missing keypair succeeded")
	}
	if fds.RFD != fd || fds.WFD != fd {
		t.Fatal("failed setup must leave the descriptor pair untouched")
	}

	// the pair must still be live, not just numerically unchanged
	writeFD(t, fds.WFD, []byte("still here"))
	got := make([]byte, 10)
	if _, err := io.ReadFull(peer, got); err != nil {
		t.Fatalf("read after failed setup: %v", err)
	}
	if string(got) != "still here" {
		t.Fatalf("peer read %q after failed setup", got)
	}
}
