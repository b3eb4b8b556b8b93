package frametiming

import "fmt"

// State is the phase a Recorder has reached.
// A Recorder starts in StateUninitialized and moves through the states in
// the order they are declared here, one step per record call.
type State uint32

const (
	StateUninitialized State = iota
	StateVsync
	StateBuildStart
	StateBuildEnd
	StateRasterStart
	StateRasterEnd
)

var stateNames = map[State]string{
	StateUninitialized: "uninitialized",
	StateVsync:         "vsync",
	StateBuildStart:    "build_start",
	StateBuildEnd:      "build_end",
	StateRasterStart:   "raster_start",
	StateRasterEnd:     "raster_end",
}

// nextState maps every non-terminal state to the only state a record call
// may move it to. StateRasterEnd is terminal and has no entry.
var nextState = map[State]State{
	StateUninitialized: StateVsync,
	StateVsync:         StateBuildStart,
	StateBuildStart:    StateBuildEnd,
	StateBuildEnd:      StateRasterStart,
	StateRasterStart:   StateRasterEnd,
}

// Next returns the state that legally follows s.
// ok is false for the terminal state and for invalid values.
func (s State) Next() (next State, ok bool) {
	next, ok = nextState[s]
	return next, ok
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// reaches reports whether a recorder in state s has passed through target,
// walking the transition table from the initial state.
func (s State) reaches(target State) bool {
	for cur := StateUninitialized; ; {
		if cur == target {
			return true
		}
		if cur == s {
			return false
		}
		next, ok := cur.Next()
		if !ok {
			return false
		}
		cur = next
	}
}
