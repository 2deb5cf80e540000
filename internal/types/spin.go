package types

// CurrentSpin is the last spin record of a wheel document.
type CurrentSpin struct {
	Winner    *string `json:"winner"`
	Timestamp int64   `json:"timestamp"`
}

// SpinDoc はドキュメント上のフラットなスピン状態。SpinPhase との変換はここだけで行う。
type SpinDoc struct {
	IsSpinning  bool         `json:"isSpinning"`
	InitiatedBy string       `json:"initiatedBy,omitempty"`
	CurrentSpin *CurrentSpin `json:"currentSpin,omitempty"`
}

func (d SpinDoc) Clone() SpinDoc {
	c := d
	if d.CurrentSpin != nil {
		cs := *d.CurrentSpin
		if d.CurrentSpin.Winner != nil {
			w := *d.CurrentSpin.Winner
			cs.Winner = &w
		}
		c.CurrentSpin = &cs
	}
	return c
}

// Timestamp returns the timestamp of the current spin record, or 0.
func (d SpinDoc) Timestamp() int64 {
	if d.CurrentSpin == nil {
		return 0
	}
	return d.CurrentSpin.Timestamp
}

// SpinPhase is one of Idle, Spinning or Resolved.
type SpinPhase interface {
	isSpinPhase()
}

// Idle means no spin has completed yet and none is running.
type Idle struct{}

// Spinning means a spin is in flight.
type Spinning struct {
	Initiator string
	Timestamp int64
}

// Resolved means the last spin finished with Winner.
type Resolved struct {
	Winner    string
	Timestamp int64
}

func (Idle) isSpinPhase()     {}
func (Spinning) isSpinPhase() {}
func (Resolved) isSpinPhase() {}

// Phase converts the flat document fields to a SpinPhase.
func (d SpinDoc) Phase() SpinPhase {
	if d.IsSpinning {
		return Spinning{Initiator: d.InitiatedBy, Timestamp: d.Timestamp()}
	}
	if d.CurrentSpin != nil && d.CurrentSpin.Winner != nil {
		return Resolved{Winner: *d.CurrentSpin.Winner, Timestamp: d.CurrentSpin.Timestamp}
	}
	return Idle{}
}

// SpinDocFrom converts a SpinPhase back to the flat document fields.
// Idle carries the previous timestamp forward so it never goes backwards.
func SpinDocFrom(p SpinPhase, prevTimestamp int64) SpinDoc {
	switch v := p.(type) {
	case Spinning:
		return SpinDoc{
			IsSpinning:  true,
			InitiatedBy: v.Initiator,
			CurrentSpin: &CurrentSpin{Timestamp: v.Timestamp},
		}
	case Resolved:
		winner := v.Winner
		return SpinDoc{
			CurrentSpin: &CurrentSpin{Winner: &winner, Timestamp: v.Timestamp},
		}
	default:
		if prevTimestamp == 0 {
			return SpinDoc{}
		}
		return SpinDoc{CurrentSpin: &CurrentSpin{Timestamp: prevTimestamp}}
	}
}
