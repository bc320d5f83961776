package clock

import (
	"time"

	fbclock "github.com/facebookgo/clock"
)

// Service is the single source of wallclock time for the core. Production
// code gets the real clock; tests freeze and advance a mock. Nothing in the
// core calls time.Now directly.
type Service struct {
	clk fbclock.Clock
}

func New() *Service {
	return &Service{clk: fbclock.New()}
}

// NewMock returns a Service frozen at t together with the mock handle used
// to advance it.
func NewMock(t time.Time) (*Service, *fbclock.Mock) {
	m := fbclock.NewMock()
	m.Add(t.Sub(m.Now()))
	return &Service{clk: m}, m
}

func (s *Service) Now() time.Time {
	return s.clk.Now()
}

// NowMicros is the chip-journal timestamp: microseconds since the unix epoch.
func (s *Service) NowMicros() int64 {
	return s.clk.Now().UnixMicro()
}

func (s *Service) Since(t time.Time) time.Duration {
	return s.clk.Now().Sub(t)
}
