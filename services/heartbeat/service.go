package heartbeat

import (
	"context"
	"runtime"
	"time"

	"watchcode-go/bus"
	"watchcode-go/sched"
	"watchcode-go/types"
	"watchcode-go/x/logx"
)

var (
	topicConfigHeartbeat = bus.Topic{"config", "heartbeat"}
	topicPower           = bus.Topic{"watch", "power"}
)

// Sample is one diagnostics reading, taken from the core.
type Sample struct {
	QueueLen  int
	Overflows uint32
	Exec      sched.Stats
}

type Service struct {
	// Sample is called on every beat. It must be safe to call from the
	// heartbeat goroutine.
	Sample   func() Sample
	Interval time.Duration

	state types.PowerState
	beats uint32
	log   logx.Logger
}

func New(interval time.Duration, sample func() Sample) *Service {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Service{Sample: sample, Interval: interval, log: logx.New("heartbeat")}
}

func (s *Service) beat() {
	s.beats++
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	kv := []any{"n", s.beats, "state", s.state, "heap", ms.HeapAlloc, "gc", ms.NumGC}
	if s.Sample != nil {
		x := s.Sample()
		kv = append(kv, "q", x.QueueLen, "drops", x.Overflows,
			"steps", x.Exec.Steps, "polls", x.Exec.Polls, "tasks", x.Exec.InFlight)
	}
	s.log.Info("beat", kv...)
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)
	pwrSub := conn.Subscribe(topicPower)
	defer conn.Unsubscribe(pwrSub)

	tick := time.NewTicker(s.Interval)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping")
			return
		case <-tick.C:
			s.beat()
		case msg := <-pwrSub.Channel():
			if v, ok := msg.Payload.(types.PowerValue); ok {
				s.state = v.State
			}
		case msg := <-cfgSub.Channel():
			// Change tick interval if needed
			if m, ok := msg.Payload.(map[string]any); ok {
				if iv, ok := m["interval"].(float64); ok && iv > 0 {
					s.Interval = time.Duration(iv * float64(time.Second))
					tick.Reset(s.Interval)
					s.log.Info("interval set", "interval", s.Interval)
				}
			}
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
