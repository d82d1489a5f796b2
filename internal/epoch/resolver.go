package epoch

import "time"

// Resolver maps "now" to the epoch a job should attribute data to.
type Resolver struct {
	Table  *Table
	Anchor time.Weekday
}

// Target is a resolved epoch and the boundary it was looked up by.
type Target struct {
	Epoch    int
	Boundary time.Time
}

// Resolve looks up the epoch starting at the next anchor boundary and applies offset.
func (r Resolver) Resolve(now time.Time, offset int) (Target, error) {
	boundary := NextBoundary(now, r.Anchor)
	row, err := r.Table.ByTimestamp(boundary.Unix())
	if err != nil {
		return Target{}, err
	}
	return Target{Epoch: row.Epoch + offset, Boundary: boundary}, nil
}

// Current returns the epoch now falls in.
func (r Resolver) Current(now time.Time) (Target, error) {
	row, err := r.Table.ForTime(now)
	if err != nil {
		return Target{}, err
	}
	return Target{Epoch: row.Epoch, Boundary: time.Unix(row.Timestamp, 0).UTC()}, nil
}
