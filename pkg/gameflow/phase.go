// Package gameflow tracks the match phase reported by the client.
// It owns the single authoritative phase variable and emits one
// (from, to) transition event per change.
package gameflow

// Phase is the canonical match phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseLobby      Phase = "lobby"
	PhaseChampSelect Phase = "champ_select"
	PhaseLoading    Phase = "loading"
	PhaseInGame     Phase = "in_game"
	PhasePostGame   Phase = "post_game"
)

// rawPhaseMap reduces the client's gameflow-phase strings to canonical
// phases. Unknown strings map to Idle.
var rawPhaseMap = map[string]Phase{
	"None":            PhaseIdle,
	"Matchmaking":     PhaseLobby,
	"ReadyCheck":      PhaseLobby,
	"ChampSelect":     PhaseChampSelect,
	"GameStart":       PhaseLoading,
	"InProgress":      PhaseInGame,
	"WaitingForStats": PhasePostGame,
	"PreEndOfGame":    PhasePostGame,
	"EndOfGame":       PhasePostGame,
}

// FromRaw maps a raw client phase string to its canonical phase.
func FromRaw(raw string) Phase {
	if p, ok := rawPhaseMap[raw]; ok {
		return p
	}
	return PhaseIdle
}

// allowedEdges is the advisory transition set. The client is the source
// of truth: an edge outside this set is logged and applied anyway.
var allowedEdges = map[Phase][]Phase{
	PhaseIdle:        {PhaseLobby},
	PhaseLobby:       {PhaseChampSelect, PhaseIdle},
	PhaseChampSelect: {PhaseLoading, PhaseLobby}, // Lobby = dodge
	PhaseLoading:     {PhaseInGame},
	PhaseInGame:      {PhasePostGame},
	PhasePostGame:    {PhaseIdle, PhaseLobby},
}

func edgeAllowed(from, to Phase) bool {
	for _, p := range allowedEdges[from] {
		if p == to {
			return true
		}
	}
	return false
}
