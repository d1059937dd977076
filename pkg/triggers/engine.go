package triggers

import (
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/willckim/rift-architect/pkg/livegame"
	"github.com/willckim/rift-architect/pkg/overlay"
)

// adviceCooldown is the global floor between any two dispatched pieces
// of advice, local or LLM. Triggers inside the window are dropped
// silently — the cooldown caps user-visible noise no matter how many
// rules fire.
const adviceCooldown = 60 * time.Second

// Game-phase boundaries for the context tag.
const (
	midGameStart  = 840.0
	lateGameStart = 1500.0
)

// Trigger kinds.
const (
	KindResetNow         = "RESET_NOW"
	KindBaronWindow      = "BARON_WINDOW"
	KindContestObjective = "CONTEST_OBJECTIVE"
	KindBaronCall        = "BARON_CALL"
	KindCatchWave        = "CATCH_WAVE"
	KindWinCondition     = "WIN_CONDITION"
	KindBaronBait        = "BARON_BAIT"
	KindAce              = "ACE"
	KindGoldSwing        = "GOLD_SWING"
	KindLongTimers       = "LONG_DEATH_TIMERS"
	KindPowerSpike       = "POWER_SPIKE"
	KindObjectiveTaken   = "OBJECTIVE_TAKEN"
)

// Result is one classified state change. A non-nil LocalPayload makes
// it deterministic: it bypasses the LLM entirely.
type Result struct {
	Kind         string
	Detail       string
	Urgency      string
	LocalPayload *overlay.MacroCall
	LLMWorthy    bool
}

var urgencyRank = map[string]int{
	overlay.UrgencyUrgent:     0,
	overlay.UrgencySuggestion: 1,
	overlay.UrgencyInfo:       2,
}

// Context is the compact JSON handed to the live advisor with
// LLM-worthy triggers.
type Context struct {
	GameTime     float64           `json:"gameTime"`
	Phase        string            `json:"phase"`
	Triggers     []ContextTrigger  `json:"triggers"`
	AllyDrakes   int               `json:"allyDrakes"`
	EnemyDrakes  int               `json:"enemyDrakes"`
	BaronUp      bool              `json:"baronUp"`
	AllyInhibsDown  []Lane         `json:"allyInhibsDown"`
	EnemyInhibsDown []Lane         `json:"enemyInhibsDown"`
	ActivePlayer ContextPlayer     `json:"activePlayer"`
}

// ContextTrigger is one trigger inside Context.
type ContextTrigger struct {
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
	Urgency string `json:"urgency"`
}

// ContextPlayer summarizes the local player.
type ContextPlayer struct {
	Name     string `json:"name"`
	Champion string `json:"champion,omitempty"`
	Level    int    `json:"level"`
	Kills    int    `json:"kills"`
	Deaths   int    `json:"deaths"`
	Assists  int    `json:"assists"`
}

// EscalateFunc hands LLM-worthy triggers plus context to the live
// advisor. Implementations must not block the engine.
type EscalateFunc func(contextJSON []byte)

// Engine consumes the telemetry streams and dispatches advice. All
// methods must be called from a single goroutine; the engine owns its
// state exclusively.
type Engine struct {
	state    *state
	sink     overlay.Sink
	escalate EscalateFunc

	// pending accumulates event-stream results until the next snapshot
	// evaluation merges and dispatches them.
	pending []Result

	// OnDispatch, when set, observes every dispatched advice kind
	// (feeds the metrics counter).
	OnDispatch func(kind string)

	now func() time.Time
}

// NewEngine creates an engine for one match. escalate may be nil when
// the live advisor is disabled; LLM-worthy triggers are then dropped.
func NewEngine(sink overlay.Sink, escalate EscalateFunc) *Engine {
	return &Engine{
		state:    newState(),
		sink:     sink,
		escalate: escalate,
		now:      time.Now,
	}
}

// Reset clears all per-match state for a new game.
func (e *Engine) Reset() {
	last := e.state.lastAdvice
	e.state = newState()
	// The advice cooldown is wall-clock and survives a reset so a
	// remake cannot double-fire inside one window.
	e.state.lastAdvice = last
	e.pending = nil
}

// OnEvents ingests a batch from the event feed: updates rolling state
// and queues objective results for the next snapshot dispatch.
func (e *Engine) OnEvents(events []livegame.GameEvent) {
	for _, ev := range events {
		if e.state.seen(ev) {
			continue
		}
		if r := e.applyEvent(ev); r != nil {
			e.pending = append(e.pending, *r)
		}
	}
}

func (e *Engine) applyEvent(ev livegame.GameEvent) *Result {
	s := e.state
	switch ev.EventName {
	case livegame.EventChampionKill:
		if s.teamByName[ev.VictimName] == s.localTeam {
			s.allyDeathTimes = append(s.allyDeathTimes, ev.EventTime)
		}
		return nil

	case livegame.EventDragonKill:
		s.drakes[s.teamByName[ev.KillerName]]++
		detail := "Dragon taken"
		if s.teamByName[ev.KillerName] == s.localTeam {
			detail = "We took dragon"
		}
		return &Result{
			Kind: KindObjectiveTaken, Detail: detail,
			Urgency: overlay.UrgencySuggestion, LLMWorthy: true,
		}

	case livegame.EventBaronKill:
		s.lastBaron = ev.EventTime
		return &Result{
			Kind: KindObjectiveTaken, Detail: "Baron taken",
			Urgency: overlay.UrgencyUrgent, LLMWorthy: true,
		}

	case livegame.EventHeraldKill:
		return &Result{
			Kind: KindObjectiveTaken, Detail: "Herald taken",
			Urgency: overlay.UrgencyInfo, LLMWorthy: true,
		}

	case livegame.EventTurretKilled:
		if team, lane, ok := ParseTurretName(ev.TurretKilled); ok {
			s.recordTurretDown(team, lane)
		}
		return nil

	case livegame.EventInhibKilled:
		if team, lane, ok := ParseInhibName(ev.InhibKilled); ok {
			s.recordInhib(team, lane, true)
		}
		return nil

	case livegame.EventInhibRespawn:
		if team, lane, ok := ParseInhibName(ev.InhibRespawned); ok {
			s.recordInhib(team, lane, false)
		}
		return nil
	}
	return nil
}

// OnSnapshot evaluates the full rule set against a snapshot, merges
// pending event results, and dispatches the outcome.
func (e *Engine) OnSnapshot(snap livegame.Snapshot) {
	s := e.state
	s.identify(&snap)
	if s.localTeam == "" {
		return
	}
	gameTime := snap.GameData.GameTime
	s.pruneDeaths(gameTime)
	lead := s.recordGoldLead(&snap)

	results := e.evaluateSnapshot(&snap, gameTime, lead)
	results = append(results, e.pending...)
	e.pending = nil

	e.dispatch(&snap, gameTime, results)
}

// evaluateSnapshot runs the prioritized snapshot rules. All matching
// rules produce results; dispatch sorts by urgency with the rule order
// breaking ties.
func (e *Engine) evaluateSnapshot(snap *livegame.Snapshot, gameTime, lead float64) []Result {
	s := e.state
	enemy := s.enemyTeam()
	var results []Result

	allies, enemies := splitTeams(snap, s.localTeam)
	enemyJungler := findByPosition(enemies, "JUNGLE")
	deadEnemies := dead(enemies)
	baronUp := s.baronUp(gameTime)

	// 1. Throw-Guard: comfortable lead plus a losing fight — reset.
	if lead > 3000 && len(s.allyDeathTimes) >= 2 {
		results = append(results, Result{
			Kind: KindResetNow, Urgency: overlay.UrgencyUrgent,
			Detail: "Large lead with recent deaths, reset and regroup",
			LocalPayload: &overlay.MacroCall{
				CallType: KindResetNow,
				Message:  "Stop fighting. Reset, buy, and group.",
				Urgency:  overlay.UrgencyUrgent,
			},
		})
	}

	// 2. Baron window: jungler down long enough to start it.
	if baronUp && enemyJungler != nil && enemyJungler.IsDead && enemyJungler.RespawnTimer > 15 {
		results = append(results, Result{
			Kind: KindBaronWindow, Urgency: overlay.UrgencyUrgent,
			Detail:    "Enemy jungler dead with baron up",
			LLMWorthy: true,
		})
	}

	// 3. Contest soul point.
	if baronUp && s.drakes[enemy] >= 3 {
		results = append(results, Result{
			Kind: KindContestObjective, Urgency: overlay.UrgencyUrgent,
			Detail: "Enemy on soul point",
			LocalPayload: &overlay.MacroCall{
				CallType: KindContestObjective,
				Message:  "Enemy is on soul point. Contest or trade baron.",
				Urgency:  overlay.UrgencyUrgent,
			},
		})
	}

	// 4. Rush baron on our soul point.
	rushBaron := baronUp && s.drakes[s.localTeam] >= 3
	if rushBaron {
		results = append(results, Result{
			Kind: KindBaronCall, Urgency: overlay.UrgencyUrgent,
			Detail: "Our soul point, force baron",
			LocalPayload: &overlay.MacroCall{
				CallType: KindBaronCall,
				Message:  "Soul point is ours. Force baron now.",
				Urgency:  overlay.UrgencyUrgent,
			},
		})
	}

	// 5. Side-lane catch.
	if gameTime > midGameStart {
		for _, lane := range []Lane{LaneTop, LaneBot} {
			if s.turretsDown[s.localTeam][lane] < 2 {
				continue
			}
			laner := findByPosition(allies, positionForLane(lane))
			if laner != nil && laner.IsDead {
				results = append(results, Result{
					Kind: KindCatchWave, Urgency: overlay.UrgencySuggestion,
					Detail: "Open side lane with its laner dead",
					LocalPayload: &overlay.MacroCall{
						CallType: KindCatchWave,
						Message:  "Catch the " + string(lane) + " wave before it crashes.",
						Urgency:  overlay.UrgencySuggestion,
					},
				})
				break
			}
		}
	}

	// 6. Win condition: enough of them dead long enough to end.
	if gameTime > lateGameStart && len(deadEnemies) >= 3 &&
		enemyJungler != nil && enemyJungler.IsDead {
		minRespawn := math.MaxFloat64
		for _, p := range deadEnemies {
			if p.RespawnTimer < minRespawn {
				minRespawn = p.RespawnTimer
			}
		}
		if minRespawn >= 15 {
			pushTime := math.Max(0, 5-float64(s.maxTurretsDownInLane(enemy)))*18 + 10
			if s.anyInhibDown(enemy) {
				pushTime *= 0.7
			}
			if pushTime < minRespawn {
				results = append(results, Result{
					Kind: KindWinCondition, Urgency: overlay.UrgencyUrgent,
					Detail: "Numbers advantage outlasts the push time — end now",
					LocalPayload: &overlay.MacroCall{
						CallType:      KindWinCondition,
						Message:       "They cannot defend. Group mid and end.",
						Urgency:       overlay.UrgencyUrgent,
						WindowSeconds: int(minRespawn),
					},
				})
			}
		}
	}

	// 7. Baron bait off an open inhibitor.
	if s.anyInhibDown(enemy) && baronUp && !rushBaron {
		results = append(results, Result{
			Kind: KindBaronBait, Urgency: overlay.UrgencySuggestion,
			Detail: "Super minions pressure, bait around baron",
			LocalPayload: &overlay.MacroCall{
				CallType: KindBaronBait,
				Message:  "Let supers push, posture around baron.",
				Urgency:  overlay.UrgencySuggestion,
			},
		})
	}

	// 8. Ace.
	if len(enemies) > 0 && len(deadEnemies) == len(enemies) {
		results = append(results, Result{
			Kind: KindAce, Urgency: overlay.UrgencyUrgent,
			Detail:    "Enemy team aced",
			LLMWorthy: true,
		})
	}

	// 9. Gold swing.
	if math.Abs(lead-s.lastReportedLead) >= goldSwingThreshold {
		results = append(results, Result{
			Kind: KindGoldSwing, Urgency: overlay.UrgencySuggestion,
			Detail:    "Estimated gold lead moved significantly",
			LLMWorthy: true,
		})
		s.lastReportedLead = lead
	}

	// 10. Long death timers.
	longDead := 0
	for _, p := range deadEnemies {
		if p.RespawnTimer > 30 {
			longDead++
		}
	}
	if longDead >= 2 {
		results = append(results, Result{
			Kind: KindLongTimers, Urgency: overlay.UrgencySuggestion,
			Detail:    "Multiple enemies on long timers",
			LLMWorthy: true,
		})
	}

	// 11. Power spike on 6/11/16.
	prev := s.levels[snap.ActivePlayer.SummonerName]
	level := snap.ActivePlayer.Level
	if level > prev && crossedSpike(prev, level) {
		results = append(results, Result{
			Kind: KindPowerSpike, Urgency: overlay.UrgencyInfo,
			Detail: "Hit a power-spike level",
			LocalPayload: &overlay.MacroCall{
				CallType: KindPowerSpike,
				Message:  "Power spike online. Look for a play.",
				Urgency:  overlay.UrgencyInfo,
			},
		})
	}
	for _, p := range snap.AllPlayers {
		s.levels[p.SummonerName] = p.Level
	}
	s.levels[snap.ActivePlayer.SummonerName] = level

	return results
}

// dispatch sorts merged results by urgency (rule order breaks ties),
// applies the global cooldown, and routes local-vs-LLM.
func (e *Engine) dispatch(snap *livegame.Snapshot, gameTime float64, results []Result) {
	if len(results) == 0 {
		return
	}
	sort.SliceStable(results, func(i, j int) bool {
		return urgencyRank[results[i].Urgency] < urgencyRank[results[j].Urgency]
	})

	now := e.now()
	if !e.state.lastAdvice.IsZero() && now.Sub(e.state.lastAdvice) < adviceCooldown {
		slog.Debug("Advice cooldown active, dropping triggers",
			"count", len(results), "top", results[0].Kind)
		return
	}

	top := results[0]
	if top.LocalPayload != nil {
		call := *top.LocalPayload
		call.ID = uuid.New().String()
		call.GameTime = gameTime
		call.Reasoning = top.Detail
		e.sink.Send(overlay.ChannelMacroCall, call)
		e.state.lastAdvice = now
		slog.Info("Local macro call dispatched", "kind", top.Kind, "urgency", top.Urgency)
		if e.OnDispatch != nil {
			e.OnDispatch(top.Kind)
		}
		return
	}

	var worthy []ContextTrigger
	for _, r := range results {
		if r.LLMWorthy {
			worthy = append(worthy, ContextTrigger{Kind: r.Kind, Detail: r.Detail, Urgency: r.Urgency})
		}
	}
	if len(worthy) == 0 || e.escalate == nil {
		return
	}
	ctx := e.buildContext(snap, gameTime, worthy)
	data, err := json.Marshal(ctx)
	if err != nil {
		slog.Error("Trigger context marshal failed", "error", err)
		return
	}
	e.escalate(data)
	e.state.lastAdvice = now
	slog.Info("Triggers escalated to live advisor",
		"count", len(worthy), "top", worthy[0].Kind)
	if e.OnDispatch != nil {
		e.OnDispatch(worthy[0].Kind)
	}
}

func (e *Engine) buildContext(snap *livegame.Snapshot, gameTime float64, worthy []ContextTrigger) Context {
	s := e.state
	cp := ContextPlayer{
		Name:  snap.ActivePlayer.SummonerName,
		Level: snap.ActivePlayer.Level,
	}
	for _, p := range snap.AllPlayers {
		if p.SummonerName == cp.Name {
			cp.Champion = p.ChampionName
			cp.Kills = p.Scores.Kills
			cp.Deaths = p.Scores.Deaths
			cp.Assists = p.Scores.Assists
		}
	}
	return Context{
		GameTime:        gameTime,
		Phase:           phaseTag(gameTime),
		Triggers:        worthy,
		AllyDrakes:      s.drakes[s.localTeam],
		EnemyDrakes:     s.drakes[s.enemyTeam()],
		BaronUp:         s.baronUp(gameTime),
		AllyInhibsDown:  s.lanesDown(s.localTeam),
		EnemyInhibsDown: s.lanesDown(s.enemyTeam()),
		ActivePlayer:    cp,
	}
}

func phaseTag(gameTime float64) string {
	switch {
	case gameTime < midGameStart:
		return "early"
	case gameTime < lateGameStart:
		return "mid"
	default:
		return "late"
	}
}

func crossedSpike(prev, level int) bool {
	for _, spike := range []int{6, 11, 16} {
		if prev < spike && level >= spike {
			return true
		}
	}
	return false
}

func splitTeams(snap *livegame.Snapshot, localTeam string) (allies, enemies []livegame.Player) {
	for _, p := range snap.AllPlayers {
		if p.Team == localTeam {
			allies = append(allies, p)
		} else {
			enemies = append(enemies, p)
		}
	}
	return allies, enemies
}

func findByPosition(players []livegame.Player, position string) *livegame.Player {
	for i := range players {
		if strings.EqualFold(players[i].Position, position) {
			return &players[i]
		}
	}
	return nil
}

func dead(players []livegame.Player) []livegame.Player {
	var d []livegame.Player
	for _, p := range players {
		if p.IsDead {
			d = append(d, p)
		}
	}
	return d
}

func positionForLane(lane Lane) string {
	switch lane {
	case LaneTop:
		return "TOP"
	case LaneBot:
		return "BOTTOM"
	default:
		return "MIDDLE"
	}
}
