// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package model

import "fmt"

// Stage is the dataset pipeline state.
type Stage string

const (
	StagePending      Stage = "pending" // created, not yet picked up by a worker
	StagePrepare      Stage = "prepare"
	StageAnalyzeFiles Stage = "analyze_files"
	StageProfile      Stage = "profile"
	StageFinalize     Stage = "finalize"
	StageReady        Stage = "ready"
	StageFailed       Stage = "failed" // terminal until an explicit retry
)

// legalTransitions enumerates every allowed stage transition.
// Any active stage may fail; prepare is reachable from pending (first run)
// and from the terminal stages or a stuck stage (explicit retry).
var legalTransitions = map[Stage][]Stage{
	StagePending:      {StagePrepare},
	StagePrepare:      {StageAnalyzeFiles, StageFailed, StagePrepare},
	StageAnalyzeFiles: {StageProfile, StageFailed, StagePrepare},
	StageProfile:      {StageFinalize, StageFailed, StagePrepare},
	StageFinalize:     {StageReady, StageFailed, StagePrepare},
	StageReady:        {StagePrepare},
	StageFailed:       {StagePrepare},
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := legalTransitions[s]
	return ok
}

// Terminal reports whether the stage ends a pipeline run.
func (s Stage) Terminal() bool {
	return s == StageReady || s == StageFailed
}

// CanTransition reports whether s -> to is a legal transition.
func (s Stage) CanTransition(to Stage) bool {
	for _, next := range legalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns to if s -> to is legal, otherwise an error naming both
// stages. Callers persist the returned stage, so an illegal transition can
// never reach the store.
func (s Stage) Transition(to Stage) (Stage, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("illegal stage transition %s -> %s", s, to)
	}
	return to, nil
}
