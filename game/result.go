package game

type Outcome int8

const (
	Ongoing Outcome = iota
	RedWins
	BlackWins
	Draw
)

func (o Outcome) String() string {
	switch o {
	case RedWins:
		return "red"
	case BlackWins:
		return "black"
	case Draw:
		return "draw"
	}
	return "ongoing"
}

// Reason records why a game ended.
type Reason int8

const (
	NoReason Reason = iota
	Checkmate
	Stalemate
	Repetition
	MoveCap
)

func (r Reason) String() string {
	switch r {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case Repetition:
		return "repetition"
	case MoveCap:
		return "move_cap"
	}
	return ""
}

type Result struct {
	Outcome Outcome
	Reason  Reason
}

// WinFor is the result of side winning for the given reason.
func WinFor(side Side, reason Reason) Result {
	if side == Red {
		return Result{Outcome: RedWins, Reason: reason}
	}
	return Result{Outcome: BlackWins, Reason: reason}
}

func DrawBy(reason Reason) Result { return Result{Outcome: Draw, Reason: reason} }

func (r Result) Over() bool { return r.Outcome != Ongoing }

// Winner returns the winning side; ok is false for draws and ongoing games.
func (r Result) Winner() (Side, bool) {
	switch r.Outcome {
	case RedWins:
		return Red, true
	case BlackWins:
		return Black, true
	}
	return Red, false
}

// ValueFor maps the result to +1/-1/0 from side's point of view.
func (r Result) ValueFor(side Side) float32 {
	w, ok := r.Winner()
	if !ok {
		return 0
	}
	if w == side {
		return 1
	}
	return -1
}

func (r Result) String() string {
	if r.Reason == NoReason {
		return r.Outcome.String()
	}
	return r.Outcome.String() + " (" + r.Reason.String() + ")"
}
