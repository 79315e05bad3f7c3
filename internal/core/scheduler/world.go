package scheduler

import (
	"github.com/strategos/simcore/internal/core/config"
	"github.com/strategos/simcore/internal/core/ecs"
	"github.com/strategos/simcore/internal/core/events/bus"
	"github.com/strategos/simcore/internal/core/observability/log"
)

// GameTime is the singleton component carrying frame timing. It lives on the
// global entity so systems read time the same way they read any other
// component, through the access manager.
type GameTime struct {
	Seconds float64
	Delta   float64
	Frame   uint64
}

// World bundles the shared simulation state handed to every system at
// Initialize: the entity authority, the component access mediator, the event
// bus and the clock.
type World struct {
	registry *ecs.Registry
	entities *ecs.EntityManager
	access   *ecs.AccessManager
	bus      *bus.Bus
	clock    *GameClock
	global   ecs.EntityID
	lg       log.Log
}

// NewWorld builds an empty world. The global entity is created eagerly and
// carries the GameTime component from frame zero.
func NewWorld(cfg config.Config, lg log.Log) *World {
	registry := ecs.NewRegistry()
	entities := ecs.NewEntityManager(registry, lg, cfg.StrictChecks)
	access := ecs.NewAccessManager(entities, registry, lg)
	access.SetDefaultLockTimeout(cfg.LockTimeout)

	w := &World{
		registry: registry,
		entities: entities,
		access:   access,
		bus:      bus.New(lg),
		clock:    &GameClock{},
		lg:       lg,
	}

	w.global = entities.CreateNamedEntity("world")
	if err := ecs.AddComponent(access, w.global, GameTime{}); err != nil {
		lg.Error("seed game time", log.Error(err))
	}
	return w
}

// Entities returns the entity manager.
func (w *World) Entities() *ecs.EntityManager { return w.entities }

// Access returns the component access manager.
func (w *World) Access() *ecs.AccessManager { return w.access }

// Bus returns the event bus.
func (w *World) Bus() *bus.Bus { return w.bus }

// Clock returns the simulation clock.
func (w *World) Clock() *GameClock { return w.clock }

// Global returns the handle of the singleton world entity.
func (w *World) Global() ecs.EntityID { return w.global }

// advanceTime moves the clock and mirrors it into the GameTime component.
// Called once per frame, before any system update runs.
func (w *World) advanceTime(dt float64) {
	w.clock.Advance(dt)

	guard, err := ecs.GetComponentForWrite[GameTime](w.access, w.global)
	if err != nil {
		w.lg.Error("advance game time", log.Error(err))
		return
	}
	defer guard.Release()

	t := guard.Component()
	t.Seconds = w.clock.TotalTime()
	t.Delta = dt
	t.Frame = w.clock.Frame()
}
