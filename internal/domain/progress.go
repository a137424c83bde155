package domain

// Progress is a unit counter. Two values are equal when both counters match.
type Progress struct {
	Completed int64 `json:"completed"`
	Total     int64 `json:"total"`
}

// NewProgress clamps negative totals to zero.
func NewProgress(completed, total int64) Progress {
	if total < 0 {
		total = 0
	}
	return Progress{Completed: completed, Total: total}
}

// Fraction returns Completed/Total, or 0 when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Completed) / float64(p.Total)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Finished reports whether every unit has been completed.
func (p Progress) Finished() bool {
	return p.Total > 0 && p.Completed >= p.Total
}
