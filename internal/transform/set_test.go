package transform

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oilcrest/lbbs/internal/module"
)

type countingInstance struct {
	cleanups int
}

func (i *countingInstance) Cleanup() { i.cleanups++ }

type countingDriver struct {
	setups int
	fail   bool
	last   *countingInstance
}

func (d *countingDriver) Setup(fds *FDPair, dir Direction, arg any) (Instance, error) {
	d.setups++
	if d.fail {
		return nil, errors.New("driver refused")
	}
	d.last = &countingInstance{}
	return d.last, nil
}

type queryInstance struct {
	countingInstance
}

func (i *queryInstance) Query(code int, data any) error {
	if p, ok := data.(*int); ok {
		*p = code * 2
		return nil
	}
	return errors.New("bad query data")
}

type queryDriver struct{}

func (queryDriver) Setup(fds *FDPair, dir Direction, arg any) (Instance, error) {
	return &queryInstance{}, nil
}

func newTestSet(t *testing.T) (*Registry, *Set, *countingDriver, *countingDriver) {
	t.Helper()
	r := NewRegistry()
	enc := &countingDriver{}
	comp := &countingDriver{}
	require.NoError(t, r.Register("TLS", KindEncryption, Bidirectional, enc, nil))
	require.NoError(t, r.Register("DEFLATE", KindCompression, Bidirectional, comp, nil))
	return r, NewSet(r), enc, comp
}

func TestSet_DuplicateKindFailsWithoutCallback(t *testing.T) {
	_, s, enc, _ := newTestSet(t)
	fds := FDPair{RFD: -1, WFD: -1}

	require.NoError(t, s.Setup(KindEncryption, Bidirectional, &fds, nil))
	require.Equal(t, 1, enc.setups)

	err := s.Setup(KindEncryption, Bidirectional, &fds, nil)
	require.ErrorIs(t, err, ErrKindActive)
	require.Equal(t, 1, enc.setups, "second setup must not reach the driver")
}

func TestSet_EncryptionAfterCompressionFails(t *testing.T) {
	for _, order := range []string{"enc-first-registered", "comp-first-registered"} {
		t.Run(order, func(t *testing.T) {
			r := NewRegistry()
			enc := &countingDriver{}
			comp := &countingDriver{}
			if order == "enc-first-registered" {
				require.NoError(t, r.Register("TLS", KindEncryption, Bidirectional, enc, nil))
				require.NoError(t, r.Register("DEFLATE", KindCompression, Bidirectional, comp, nil))
			} else {
				require.NoError(t, r.Register("DEFLATE", KindCompression, Bidirectional, comp, nil))
				require.NoError(t, r.Register("TLS", KindEncryption, Bidirectional, enc, nil))
			}
			s := NewSet(r)
			fds := FDPair{RFD: -1, WFD: -1}

			require.NoError(t, s.Setup(KindCompression, Bidirectional, &fds, nil))
			err := s.Setup(KindEncryption, Bidirectional, &fds, nil)
			require.ErrorIs(t, err, ErrOrdering)
			require.Zero(t, enc.setups)

			require.False(t, s.Possible(KindEncryption))
			require.True(t, s.Possible(KindLogging))
		})
	}
}

func TestSet_OppositeOrderStacks(t *testing.T) {
	_, s, _, _ := newTestSet(t)
	fds := FDPair{RFD: -1, WFD: -1}

	require.NoError(t, s.Setup(KindEncryption, Bidirectional, &fds, nil))
	require.NoError(t, s.Setup(KindCompression, Bidirectional, &fds, nil))
	require.Equal(t, []string{"TLS", "DEFLATE"}, s.ActiveNames())
}

func TestSet_CapacityExhausted(t *testing.T) {
	r := NewRegistry()
	drv := &countingDriver{}
	// MaxTransforms distinct kinds are impossible with three kinds, so fill
	// with logging transformers of distinct fabricated kinds.
	for i := 0; i < MaxTransforms; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("T%d", i), Kind(100+i), Bidirectional, drv, nil))
	}
	require.NoError(t, r.Register("EXTRA", Kind(999), Bidirectional, drv, nil))

	s := NewSet(r)
	fds := FDPair{RFD: -1, WFD: -1}
	for i := 0; i < MaxTransforms; i++ {
		require.NoError(t, s.Setup(Kind(100+i), Bidirectional, &fds, nil))
	}
	setups := drv.setups
	err := s.Setup(Kind(999), Bidirectional, &fds, nil)
	require.ErrorIs(t, err, ErrSetFull)
	require.Equal(t, setups, drv.setups, "full set must not reach the driver")
}

func TestSet_SetupFailurePropagates(t *testing.T) {
	r := NewRegistry()
	drv := &countingDriver{fail: true}
	require.NoError(t, r.Register("TLS", KindEncryption, Bidirectional, drv, nil))

	s := NewSet(r)
	fds := FDPair{RFD: -1, WFD: -1}
	err := s.Setup(KindEncryption, Bidirectional, &fds, nil)
	require.Error(t, err)
	require.False(t, s.Active(KindEncryption))
}

func TestSet_TeardownAllIdempotent(t *testing.T) {
	mod := module.New("test")
	r := NewRegistry()
	enc := &countingDriver{}
	require.NoError(t, r.Register("TLS", KindEncryption, Bidirectional, enc, mod))

	s := NewSet(r)
	fds := FDPair{RFD: -1, WFD: -1}
	require.NoError(t, s.Setup(KindEncryption, Bidirectional, &fds, nil))
	inst := enc.last

	s.TeardownAll()
	require.Equal(t, 1, inst.cleanups)
	require.EqualValues(t, 0, mod.Refs())

	s.TeardownAll()
	require.Equal(t, 1, inst.cleanups, "second teardown must invoke no callbacks")
	require.EqualValues(t, 0, mod.Refs())
}

func TestSet_QueryForwardsOrDefaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("TLS", KindEncryption, Bidirectional, queryDriver{}, nil))
	require.NoError(t, r.Register("DEFLATE", KindCompression, Bidirectional, &countingDriver{}, nil))

	s := NewSet(r)
	fds := FDPair{RFD: -1, WFD: -1}
	require.NoError(t, s.Setup(KindEncryption, Bidirectional, &fds, nil))
	require.NoError(t, s.Setup(KindCompression, Bidirectional, &fds, nil))

	var out int
	require.NoError(t, s.Query(KindEncryption, 21, &out))
	require.Equal(t, 42, out)

	// no Querier: supported, no extra data
	require.NoError(t, s.Query(KindCompression, 21, &out))

	require.ErrorIs(t, s.Query(KindLogging, 1, nil), ErrNotActive)
}
