package telemetry

import "time"

// Snapshot is the structured state derived from miner output.
//
// It is a value type: copies handed to subscribers are immutable.
type Snapshot struct {
	// Hashrate is in MH/s.
	Hashrate float64 `json:"hashrate_mhs"`

	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Invalid  uint64 `json:"invalid"`

	// Power is in watts.
	Power float64 `json:"power_w"`

	// Temperature is the GPU core temperature in °C.
	Temperature float64 `json:"temperature_c"`

	// UpdatedAt is when the last non-empty update was applied. Zero until then.
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Shares is the accepted/rejected/invalid triple. It is always replaced as a unit.
type Shares struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Invalid  uint64 `json:"invalid"`
}

// Update is the partial result of parsing one line.
// Nil fields were not found on the line and must be left untouched.
type Update struct {
	Hashrate    *float64
	Shares      *Shares
	Power       *float64
	Temperature *float64

	// BlockFound reports whether the raw line announces a solo block win.
	BlockFound bool
}

// IsEmpty reports whether the update carries no telemetry fields.
// BlockFound is not a telemetry field.
func (u Update) IsEmpty() bool {
	return u.Hashrate == nil && u.Shares == nil && u.Power == nil && u.Temperature == nil
}

// merge copies the fields set in other into u.
func (u Update) merge(other Update) Update {
	if other.Hashrate != nil {
		u.Hashrate = other.Hashrate
	}
	if other.Shares != nil {
		u.Shares = other.Shares
	}
	if other.Power != nil {
		u.Power = other.Power
	}
	if other.Temperature != nil {
		u.Temperature = other.Temperature
	}
	return u
}

// Apply returns a copy of s with the fields present in u replaced.
// An empty update returns s unchanged, including UpdatedAt.
func (s Snapshot) Apply(u Update) Snapshot {
	return s.ApplyAt(u, time.Now())
}

// ApplyAt is Apply with an explicit timestamp.
func (s Snapshot) ApplyAt(u Update, now time.Time) Snapshot {
	if u.IsEmpty() {
		return s
	}
	if u.Hashrate != nil {
		s.Hashrate = *u.Hashrate
	}
	if u.Shares != nil {
		s.Accepted = u.Shares.Accepted
		s.Rejected = u.Shares.Rejected
		s.Invalid = u.Shares.Invalid
	}
	if u.Power != nil {
		s.Power = *u.Power
	}
	if u.Temperature != nil {
		s.Temperature = *u.Temperature
	}
	s.UpdatedAt = now
	return s
}

// Shares returns the snapshot's share triple.
func (s Snapshot) Shares() Shares {
	return Shares{Accepted: s.Accepted, Rejected: s.Rejected, Invalid: s.Invalid}
}
