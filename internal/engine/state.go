package engine

import (
	"fmt"
	"slices"
)

// TurnState is a node of the per-turn state machine.
type TurnState string

const (
	StateSelectingContext TurnState = "selecting_context"
	StateCallingModel     TurnState = "calling_model"
	StateExecutingTool    TurnState = "executing_tool"
	StateContinue         TurnState = "continue"
	StateAwaitingUser     TurnState = "awaiting_user"
	StateIdle             TurnState = "idle"
	StateFailed           TurnState = "failed"
	StateInconclusive     TurnState = "inconclusive"
	StateCancelled        TurnState = "cancelled"
)

var transitions = map[TurnState][]TurnState{
	StateSelectingContext: {StateCallingModel, StateFailed, StateCancelled},
	StateCallingModel:     {StateExecutingTool, StateFailed, StateCancelled},
	StateExecutingTool:    {StateContinue, StateAwaitingUser, StateIdle, StateFailed},
	StateContinue:         {StateCallingModel, StateInconclusive, StateCancelled},
}

// Terminal reports whether a turn in state s has ended.
func (s TurnState) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

func (s TurnState) CanTransition(to TurnState) bool {
	return slices.Contains(transitions[s], to)
}

// State is the observable state of one running turn. Hooks receive it on
// every callback and must treat it as read-only.
type State struct {
	SessionID string
	UserID    string
	TurnID    string
	Model     string

	Turn          TurnState
	Iteration     int // model calls made so far
	MaxIterations int
	Totals        Usage // accumulated token usage, selector included
}

func (s *State) transition(to TurnState) error {
	if !s.Turn.CanTransition(to) {
		return &ProtocolError{Err: fmt.Errorf("invalid turn transition %s -> %s", s.Turn, to)}
	}
	s.Turn = to
	return nil
}
