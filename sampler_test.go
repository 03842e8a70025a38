package clapsync

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/clock"
)

var errBus = errors.New("bus error")

type script struct {
	calls  int
	stop   int
	cancel context.CancelFunc
}

func (s *script) Sample() (uint16, error) {
	s.calls++
	if s.calls == s.stop {
		s.cancel()
	}
	if s.calls%4 == 0 {
		return 0, errBus
	}
	return 2000, nil
}

func TestSampler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, hook := test.NewNullLogger()
	src := &script{stop: 40, cancel: cancel}
	det := beat.New(beat.DefaultConfig())
	s := NewSampler(src, det, clock.NewSystem(), 8000, log)

	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v", err)
	}
	if src.calls != 40 {
		t.Fatalf("read %d samples, want 40", src.calls)
	}
	if s.Samples() != 30 || s.Errors() != 10 {
		t.Errorf("Samples() = %d Errors() = %d, want 30 and 10", s.Samples(), s.Errors())
	}
	if got := det.Snapshot().Sample; got != 2000 {
		t.Errorf("detector saw %d, want 2000", got)
	}

	// errors are logged at most once a second
	entries := hook.AllEntries()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	if entries[0].Level != logrus.WarnLevel || !errors.Is(entries[0].Data[logrus.ErrorKey].(error), errBus) {
		t.Errorf("unexpected entry %v %v", entries[0].Level, entries[0].Data)
	}
}
