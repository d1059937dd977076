package triggers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/willckim/rift-architect/pkg/livegame"
)

func TestParseTurretName(t *testing.T) {
	tests := []struct {
		name string
		team string
		lane Lane
		ok   bool
	}{
		{"Turret_T1_R_03_A", livegame.TeamOrder, LaneBot, true},
		{"Turret_T2_C_05_A", livegame.TeamChaos, LaneMid, true},
		{"Turret_T1_L_02_A", livegame.TeamOrder, LaneTop, true},
		{"Turret_T3_L_02_A", "", "", false},
		{"Turret_T1_X_02_A", "", "", false},
		{"Turret", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			team, lane, ok := ParseTurretName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.team, team)
			assert.Equal(t, tt.lane, lane)
		})
	}
}

func TestParseInhibName(t *testing.T) {
	team, lane, ok := ParseInhibName("Barracks_T2_L1")
	assert.True(t, ok)
	assert.Equal(t, livegame.TeamChaos, team)
	assert.Equal(t, LaneTop, lane)

	team, lane, ok = ParseInhibName("Barracks_T1_R1")
	assert.True(t, ok)
	assert.Equal(t, livegame.TeamOrder, team)
	assert.Equal(t, LaneBot, lane)
}
