package triggers

import (
	"fmt"
	"time"

	"github.com/willckim/rift-architect/pkg/livegame"
)

// Baron timing: first spawn at 1200 s of game time, respawn 360 s
// after each kill.
const (
	baronSpawnTime   = 1200.0
	baronRespawnTime = 360.0
)

// deathWindow is how long ally deaths stay in the rolling window.
const deathWindow = 30.0

// goldHistoryCap bounds the stored gold-lead history.
const goldHistoryCap = 64

// Per-player gold estimate weights. The telemetry only exposes the
// active player's real gold, so team gold is estimated from the
// scoreboard; the swing threshold below is tuned to that approximation.
const (
	goldPerCS     = 20
	goldPerKill   = 300
	goldPerAssist = 150
)

// goldSwingThreshold is the reported-lead delta that counts as a swing.
const goldSwingThreshold = 1000.0

// state is the per-match rolling aggregate set. Single-writer: only
// the engine mutates it, from snapshot/event callbacks that are
// serialized with respect to each other.
type state struct {
	localTeam  string
	teamByName map[string]string

	goldHistory []float64
	drakes      map[string]int // team → dragon kills
	lastBaron   float64        // game time of last BaronKill; -1 = never

	allyDeathTimes []float64

	turretsDown map[string]map[Lane]int  // owning team → lane → destroyed
	inhibsDown  map[string]map[Lane]bool // owning team → lanes currently down

	levels     map[string]int
	seenEvents map[string]bool

	lastReportedLead float64
	lastAdvice       time.Time
}

func newState() *state {
	return &state{
		teamByName:  make(map[string]string),
		drakes:      make(map[string]int),
		lastBaron:   -1,
		turretsDown: make(map[string]map[Lane]int),
		inhibsDown:  make(map[string]map[Lane]bool),
		levels:      make(map[string]int),
		seenEvents:  make(map[string]bool),
	}
}

// identify locks the local team on first snapshot and refreshes the
// name→team map on every snapshot.
func (s *state) identify(snap *livegame.Snapshot) {
	for _, p := range snap.AllPlayers {
		s.teamByName[p.SummonerName] = p.Team
		if s.localTeam == "" && p.SummonerName == snap.ActivePlayer.SummonerName {
			s.localTeam = p.Team
		}
	}
}

func (s *state) enemyTeam() string {
	if s.localTeam == livegame.TeamOrder {
		return livegame.TeamChaos
	}
	return livegame.TeamOrder
}

// seen records an event key and reports whether it was already seen.
func (s *state) seen(ev livegame.GameEvent) bool {
	key := fmt.Sprintf("%s:%d", ev.EventName, ev.EventID)
	if s.seenEvents[key] {
		return true
	}
	s.seenEvents[key] = true
	return false
}

// baronUp reports whether baron is currently on the map.
func (s *state) baronUp(gameTime float64) bool {
	if gameTime < baronSpawnTime {
		return false
	}
	return s.lastBaron < 0 || gameTime >= s.lastBaron+baronRespawnTime
}

// recordGoldLead appends to the bounded lead history and returns the lead.
func (s *state) recordGoldLead(snap *livegame.Snapshot) float64 {
	var ally, enemy float64
	for _, p := range snap.AllPlayers {
		est := float64(p.Scores.CreepScore*goldPerCS +
			p.Scores.Kills*goldPerKill +
			p.Scores.Assists*goldPerAssist)
		if p.Team == s.localTeam {
			ally += est
		} else {
			enemy += est
		}
	}
	lead := ally - enemy
	s.goldHistory = append(s.goldHistory, lead)
	if len(s.goldHistory) > goldHistoryCap {
		s.goldHistory = s.goldHistory[len(s.goldHistory)-goldHistoryCap:]
	}
	return lead
}

// pruneDeaths drops ally deaths older than the window.
func (s *state) pruneDeaths(gameTime float64) {
	cutoff := gameTime - deathWindow
	kept := s.allyDeathTimes[:0]
	for _, t := range s.allyDeathTimes {
		if t >= cutoff {
			kept = append(kept, t)
		}
	}
	s.allyDeathTimes = kept
}

func (s *state) recordTurretDown(team string, lane Lane) {
	if s.turretsDown[team] == nil {
		s.turretsDown[team] = make(map[Lane]int)
	}
	s.turretsDown[team][lane]++
}

func (s *state) recordInhib(team string, lane Lane, down bool) {
	if s.inhibsDown[team] == nil {
		s.inhibsDown[team] = make(map[Lane]bool)
	}
	if down {
		s.inhibsDown[team][lane] = true
	} else {
		delete(s.inhibsDown[team], lane)
	}
}

func (s *state) anyInhibDown(team string) bool {
	return len(s.inhibsDown[team]) > 0
}

func (s *state) lanesDown(team string) []Lane {
	var lanes []Lane
	for _, l := range []Lane{LaneTop, LaneMid, LaneBot} {
		if s.inhibsDown[team][l] {
			lanes = append(lanes, l)
		}
	}
	return lanes
}

// maxTurretsDownInLane returns the deepest lane push against team.
func (s *state) maxTurretsDownInLane(team string) int {
	max := 0
	for _, n := range s.turretsDown[team] {
		if n > max {
			max = n
		}
	}
	return max
}
