// Package triggers turns the live telemetry stream into a small set of
// rate-limited strategic signals. Deterministic rules dispatch straight
// to the overlay; only the genuinely ambiguous cases escalate to the
// live advisor.
package triggers

import (
	"strings"

	"github.com/willckim/rift-architect/pkg/livegame"
)

// Lane is a map lane parsed from structure names.
type Lane string

const (
	LaneTop Lane = "top"
	LaneMid Lane = "mid"
	LaneBot Lane = "bot"
)

// structure name tokens: T1/T2 pick the owning team, L/C/R the lane.
var laneByLetter = map[byte]Lane{
	'L': LaneTop,
	'C': LaneMid,
	'R': LaneBot,
}

var teamByToken = map[string]string{
	"T1": livegame.TeamOrder,
	"T2": livegame.TeamChaos,
}

// ParseTurretName parses names like "Turret_T1_R_03_A" into the owning
// team and lane.
func ParseTurretName(name string) (team string, lane Lane, ok bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 3 {
		return "", "", false
	}
	team, ok = teamByToken[parts[1]]
	if !ok {
		return "", "", false
	}
	if len(parts[2]) == 0 {
		return "", "", false
	}
	lane, ok = laneByLetter[parts[2][0]]
	if !ok {
		return "", "", false
	}
	return team, lane, true
}

// ParseInhibName parses names like "Barracks_T2_L1" into the owning
// team and lane.
func ParseInhibName(name string) (team string, lane Lane, ok bool) {
	return ParseTurretName(name)
}
