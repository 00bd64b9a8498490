// Command simulate runs a battle headless at a fixed step and prints a
// per-faction summary. Runs with the same config and flags are identical.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"valley-of-ashes/internal/config"
	"valley-of-ashes/internal/economy"
	"valley-of-ashes/internal/game"
)

func main() {
	seconds := flag.Float64("seconds", 600, "simulated seconds to run")
	dt := flag.Float64("dt", 0.05, "fixed time step in seconds")
	aiFlag := flag.String("ai", "enemy", "factions driven by the economy AI: player, enemy, both or none")
	events := flag.String("events", "", "write battle events as JSONL to this path")
	simPath := flag.String("sim", "", "optional YAML sim override (defaults to SIM_CONFIG_PATH)")
	unitsPath := flag.String("units", "", "optional YAML unit stats (defaults to UNIT_STATS_PATH)")
	quiet := flag.Bool("quiet", false, "suppress battle logs")
	flag.Parse()

	if *dt <= 0 || *seconds <= 0 {
		log.Fatal("❌ -seconds and -dt must be positive")
	}
	if *quiet {
		log.SetOutput(io.Discard)
	}

	if *simPath == "" {
		*simPath = os.Getenv("SIM_CONFIG_PATH")
	}
	if *unitsPath == "" {
		*unitsPath = os.Getenv("UNIT_STATS_PATH")
	}
	sim, err := config.LoadSim(*simPath)
	if err != nil {
		fatal(err)
	}
	units, err := config.LoadUnits(*unitsPath)
	if err != nil {
		fatal(err)
	}

	engine, err := game.NewEngine(game.EngineConfig{Sim: &sim, Units: units, LosslessEvents: true})
	if err != nil {
		fatal(err)
	}

	controlled, err := economy.ParseControlled(*aiFlag)
	if err != nil {
		fatal(err)
	}
	ais := make([]*economy.AI, 0, len(controlled))
	for _, f := range controlled {
		ai, err := economy.NewAI(engine.Battle(), f, nil)
		if err != nil {
			fatal(err)
		}
		engine.AddController(ai)
		ais = append(ais, ai)
	}

	if *events != "" {
		if err := engine.StartEventLog(*events); err != nil {
			fatal(err)
		}
	}

	steps := int(*seconds / *dt + 0.5)
	start := time.Now()
	for i := 0; i < steps; i++ {
		engine.Advance(*dt)
		if engine.GetSnapshot().GameOver {
			break
		}
	}
	wall := time.Since(start)
	engine.StopEventLog()

	var logged *eventCounts
	if *events != "" {
		total, dropped := engine.EventLogCounts()
		logged = &eventCounts{path: *events, written: total, dropped: dropped}
	}
	printSummary(os.Stdout, engine.GetSnapshot(), ais, logged, wall)
}

// eventCounts reports what the event log kept.
type eventCounts struct {
	path             string
	written, dropped uint64
}

func printSummary(w io.Writer, snap *game.BattleSnapshot, ais []*economy.AI, logged *eventCounts, wall time.Duration) {
	fmt.Fprintf(w, "match %s: %.1fs simulated in %d ticks (%s wall)\n", snap.MatchID, snap.Time, snap.Tick, wall.Round(time.Millisecond))

	owned := make(map[string]int)
	for _, g := range snap.Graveyards {
		owned[g.Owner]++
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FACTION\tALIVE\tGOLD\tKILLS\tTOWERS\tGRAVEYARDS\tBOSS HP")
	for _, fs := range snap.Factions {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%.0f/%.0f\n",
			fs.Faction, fs.Alive, fs.Gold, fs.Kills, fs.StandingTowers, owned[fs.Faction], fs.BossHP, fs.BossMaxHP)
	}
	tw.Flush()

	for _, ai := range ais {
		s := ai.Stats()
		fmt.Fprintf(w, "AI %s: %d decisions, %d purchases, %d gold spent, %d recalls\n",
			ai.Faction(), s.Decisions, s.Purchases, s.Spent, s.Recalls)
	}

	if logged != nil {
		fmt.Fprintf(w, "events: %d written to %s, %d dropped\n", logged.written, logged.path, logged.dropped)
	}

	if snap.GameOver {
		fmt.Fprintf(w, "winner: %s\n", snap.Winner)
	} else {
		fmt.Fprintln(w, "winner: none (time limit)")
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
	os.Exit(1)
}
