package task

import "fmt"

// Stage is one ordered phase of a frame. The order is fixed at build time
// and shared by every task.
type Stage uint8

const (
	None        Stage = iota
	FrameHead         // resource completions, event dispatch
	PreUpdate         // input, lifetimes
	FixedUpdate       // runs 0..n times per frame at the fixed step
	Update            // variable-rate simulation
	PostUpdate        // spawning, reactions
	PreDraw
	Draw
	Present
	PostDraw
	FrameTail // morgue flush

	// AutoNext makes a task block the stage right after the one it starts in.
	AutoNext Stage = 255
)

const stageCount = int(FrameTail) + 1

var stageNames = [...]string{
	None:        "None",
	FrameHead:   "FrameHead",
	PreUpdate:   "PreUpdate",
	FixedUpdate: "FixedUpdate",
	Update:      "Update",
	PostUpdate:  "PostUpdate",
	PreDraw:     "PreDraw",
	Draw:        "Draw",
	Present:     "Present",
	PostDraw:    "PostDraw",
	FrameTail:   "FrameTail",
}

func (s Stage) String() string {
	if s == AutoNext {
		return "AutoNext"
	}
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// Valid reports whether s is a real phase of the frame ring.
func (s Stage) Valid() bool {
	return s >= FrameHead && s <= FrameTail
}

// Next returns the stage after s, wrapping FrameTail back to FrameHead.
func (s Stage) Next() Stage {
	if !s.Valid() {
		return None
	}
	if s == FrameTail {
		return FrameHead
	}
	return s + 1
}

// Stages returns the frame ring in execution order.
func Stages() []Stage {
	out := make([]Stage, 0, stageCount-1)
	for s := FrameHead; s <= FrameTail; s++ {
		out = append(out, s)
	}
	return out
}

// ParseStage maps a stage name back to its value.
func ParseStage(name string) (Stage, bool) {
	for i, n := range stageNames {
		if n == name && Stage(i).Valid() {
			return Stage(i), true
		}
	}
	return None, false
}
