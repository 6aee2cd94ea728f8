package logtap

import (
	"fmt"
	"sync"

	"github.com/IBM/sarama"
)

/* ────────── public config ────────── */

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    int16    `yaml:"required_acks"` // 0,1,-1
}

/* ────────── sink ────────── */

// kafkaSink streams tapped traffic to a topic for off-box audit. One message
// per relayed chunk, keyed by direction. The relay goroutines tap while the
// owner tears down, so producer access is mutex-guarded like the file sink.
type kafkaSink struct {
	cfg KafkaConfig

	mu sync.Mutex
	p  sarama.AsyncProducer
}

func (s *kafkaSink) Configure(raw any) error {
	cfg, ok := raw.(KafkaConfig)
	if !ok {
		return fmt.Errorf("kafka-sink: expected KafkaConfig, got %T", raw)
	}
	s.cfg = cfg

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	var err error
	s.p, err = sarama.NewAsyncProducer(cfg.Brokers, sc)
	return err
}

func (s *kafkaSink) Tap(dir string, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return nil
	}
	// The producer holds the value asynchronously; the relay reuses its
	// buffer, so hand over a copy.
	v := make([]byte, len(p))
	copy(v, p)
	s.p.Input() <- &sarama.ProducerMessage{
		Topic: s.cfg.Topic,
		Key:   sarama.StringEncoder(dir),
		Value: sarama.ByteEncoder(v),
	}
	return nil
}

func (s *kafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return nil
	}
	err := s.p.Close()
	s.p = nil
	return err
}

func init() { RegisterSink("kafka", func() Sink { return &kafkaSink{} }) }
