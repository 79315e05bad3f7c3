package main

import (
	"encoding/json"
	"math/rand"

	"github.com/strategos/simcore/internal/core/ecs"
	"github.com/strategos/simcore/internal/core/events/bus"
	"github.com/strategos/simcore/internal/core/observability/log"
	"github.com/strategos/simcore/internal/core/scheduler"
)

// Province is the demo component: a settlement with a population paying tax.
type Province struct {
	Name       string  `json:"name"`
	Population float64 `json:"population"`
	TaxRate    float64 `json:"tax_rate"`
}

func (p *Province) Serialize() ([]byte, error)    { return json.Marshal(p) }
func (p *Province) Deserialize(data []byte) error { return json.Unmarshal(data, p) }

// Treasury sits on the global entity and accumulates collected tax.
type Treasury struct {
	Gold float64
}

// TaxCollected is published once per collection pass.
type TaxCollected struct {
	Amount float64
	Frame  uint64
}

// economySystem runs on the main thread: it sweeps every province, levies
// tax, and credits the treasury. Main thread because it writes the single
// shared Treasury row and wants a consistent sweep.
type economySystem struct {
	world *scheduler.World
	lg    log.Log
}

func (s *economySystem) Name() string { return "economy" }

func (s *economySystem) Strategy() scheduler.Strategy { return scheduler.MainThread }

func (s *economySystem) Shutdown() {}

func (s *economySystem) Initialize(w *scheduler.World) error {
	s.world = w
	if err := ecs.AddComponent(w.Access(), w.Global(), Treasury{}); err != nil {
		return err
	}
	bus.Subscribe(w.Bus(), func(ev TaxCollected) {
		s.lg.Debug("tax collected", log.Float64("amount", ev.Amount), log.Uint64("frame", ev.Frame))
	})
	return nil
}

func (s *economySystem) Update(dt float64) error {
	total := 0.0
	err := s.world.Access().ForEachComponent("main.Province", func(_ ecs.EntityID, row any) bool {
		p := row.(*Province)
		total += p.Population * p.TaxRate * dt
		return true
	})
	if err != nil {
		return err
	}

	guard, err := ecs.GetComponentForWrite[Treasury](s.world.Access(), s.world.Global())
	if err != nil {
		return err
	}
	guard.Component().Gold += total
	guard.Release()

	bus.Publish(s.world.Bus(), TaxCollected{Amount: total, Frame: s.world.Clock().Frame()})
	return nil
}

// populationSystem runs on the worker pool and mutates provinces through the
// deferred write buffer, so it never contends on the Province write lock
// mid-frame.
type populationSystem struct {
	world  *scheduler.World
	growth float64
}

func (s *populationSystem) Name() string { return "population" }

func (s *populationSystem) Strategy() scheduler.Strategy { return scheduler.ThreadPool }

func (s *populationSystem) Shutdown() {}

func (s *populationSystem) Initialize(w *scheduler.World) error {
	s.world = w
	return nil
}

func (s *populationSystem) Update(dt float64) error {
	var slots []uint64
	err := s.world.Access().ForEachComponent("main.Province", func(h ecs.EntityID, _ any) bool {
		slots = append(slots, h.Slot)
		return true
	})
	if err != nil {
		return err
	}

	for _, slot := range slots {
		h, ok := s.world.Entities().ResolveSlot(slot)
		if !ok {
			continue
		}
		if err := ecs.DeferWrite(s.world.Access(), h, func(p *Province) {
			p.Population *= 1 + s.growth*dt
		}); err != nil {
			return err
		}
	}
	return nil
}

// censusSystem is a background system: it validates world integrity and logs
// a census at its own pace, skipping frames when the background slots are
// busy.
type censusSystem struct {
	world *scheduler.World
	lg    log.Log
}

func (s *censusSystem) Name() string { return "census" }

func (s *censusSystem) Strategy() scheduler.Strategy { return scheduler.BackgroundThread }

func (s *censusSystem) Shutdown() {}

func (s *censusSystem) Initialize(w *scheduler.World) error {
	s.world = w
	return nil
}

func (s *censusSystem) Update(float64) error {
	report := s.world.Entities().ValidateIntegrity()
	if !report.OK() {
		for _, msg := range report.Errors {
			s.lg.Error("integrity check", log.String("detail", msg))
		}
	}
	stats := s.world.Entities().Statistics()
	s.lg.Debug("census",
		log.Uint64("entities", stats.ActiveEntities),
		log.Int("components", stats.TotalComponents))
	return nil
}

// unrestSystem is hybrid: the main portion snapshots province slots, the
// offloaded continuation does the heavy scoring and defers the writes back.
type unrestSystem struct {
	world *scheduler.World
	rng   *rand.Rand
}

func (s *unrestSystem) Name() string { return "unrest" }

func (s *unrestSystem) Strategy() scheduler.Strategy { return scheduler.Hybrid }

func (s *unrestSystem) Shutdown() {}

func (s *unrestSystem) Initialize(w *scheduler.World) error {
	s.world = w
	s.rng = rand.New(rand.NewSource(42))
	return nil
}

func (s *unrestSystem) Update(float64) error { return nil }

func (s *unrestSystem) UpdateMain(dt float64) (*scheduler.Continuation, error) {
	var slots []uint64
	err := s.world.Access().ForEachComponent("main.Province", func(h ecs.EntityID, _ any) bool {
		slots = append(slots, h.Slot)
		return true
	})
	if err != nil {
		return nil, err
	}
	shock := s.rng.Float64() * dt

	return scheduler.NewContinuation(func() error {
		for _, slot := range slots {
			h, ok := s.world.Entities().ResolveSlot(slot)
			if !ok {
				continue
			}
			if err := ecs.DeferWrite(s.world.Access(), h, func(p *Province) {
				p.Population -= p.Population * shock * 0.001
			}); err != nil {
				return err
			}
		}
		return nil
	}), nil
}
