package logtap

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

/* ────────── public config ────────── */

type FileConfig struct {
	Dir   string `yaml:"dir"`
	Label string `yaml:"label"` // file name hint, defaults to "session"
}

/* ────────── sink ────────── */

type fileSink struct {
	mu sync.Mutex
	f  *os.File
}

func (s *fileSink) Configure(raw any) error {
	c, ok := raw.(FileConfig)
	if !ok {
		return fmt.Errorf("file-sink: expected FileConfig, got %T", raw)
	}
	if c.Label == "" {
		c.Label = "session"
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(c.Dir, fmt.Sprintf("%s-%d.tap", c.Label, time.Now().UnixNano()))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

// Tap writes the raw bytes as a session transcript; both directions land in
// one file in relay order.
func (s *fileSink) Tap(dir string, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	_, err := s.f.Write(p)
	return err
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func init() { RegisterSink("file", func() Sink { return &fileSink{} }) }
