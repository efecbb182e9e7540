package clock

// Clock is the simulation-internal logical clock. It is advanced only by the
// fixed-timestep loop and carried in every snapshot, so replayed frames see
// exactly the time a live frame would have seen. Never read wall-clock time
// inside the simulation.
type Clock struct {
	Frame   uint64
	Elapsed float64 // logical seconds since boot
}

// Advance moves the clock forward by one fixed timestep.
func (c *Clock) Advance(dt float64) {
	c.Frame++
	c.Elapsed += dt
}
