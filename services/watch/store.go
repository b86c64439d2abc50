package watch

import (
	"time"

	"watchcode-go/types"
	"watchcode-go/x/critical"
)

// AppState is the application model. It is owned by the dispatch loop and
// only mutated through Store.Update.
type AppState struct {
	CurrentTime time.Time
	BatteryPct  uint8
	BatteryMV   uint32
	Charging    bool
	StepCount   uint32
	Mode        types.DisplayMode
	Dirty       bool
	LastSync    types.SyncOutcome
}

// Store guards AppState with a critical section so interrupt-side readers
// never see a torn update.
type Store struct {
	s       AppState
	version uint32
}

// Update applies fn atomically. fn must not block.
func (st *Store) Update(fn func(s *AppState)) {
	c := critical.Enter()
	fn(&st.s)
	st.version++
	critical.Exit(c)
}

// Get returns a copy of the state.
func (st *Store) Get() AppState {
	c := critical.Enter()
	s := st.s
	critical.Exit(c)
	return s
}

// Version increments on every Update.
func (st *Store) Version() uint32 {
	c := critical.Enter()
	v := st.version
	critical.Exit(c)
	return v
}

// MarkDirty flags the model for redraw.
func (st *Store) MarkDirty() { st.Update(func(s *AppState) { s.Dirty = true }) }

// TakeDirty clears and returns the dirty flag.
func (st *Store) TakeDirty() bool {
	c := critical.Enter()
	d := st.s.Dirty
	st.s.Dirty = false
	critical.Exit(c)
	return d
}

// Snapshot is the bus and render view of the state.
func (st *Store) Snapshot() types.StateSnapshot {
	s := st.Get()
	return types.StateSnapshot{
		Time:       s.CurrentTime,
		BatteryPct: s.BatteryPct,
		BatteryMV:  s.BatteryMV,
		Charging:   s.Charging,
		Steps:      s.StepCount,
		Mode:       s.Mode,
		Dirty:      s.Dirty,
		LastSync:   s.LastSync,
	}
}
