// Package economy implements the purchasing AI: a sensing loop that counts
// both armies and a decision loop that spends gold through prioritized
// expr rules.
package economy

import (
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"

	"valley-of-ashes/internal/game"
)

// Rule buys one Unit whenever its condition holds.
type Rule struct {
	Name         string // human-readable identifier
	Priority     int    // higher = evaluated first
	Unit         string // unit type name, e.g. "GRUNT"
	ConditionSrc string // expr source over RuleEnv
	program      *vm.Program
	unitType     game.UnitType
}

// DefaultRules favors cheap numbers when behind, archers when towers are
// thin, and flankers once the lanes are even.
func DefaultRules() []*Rule {
	return []*Rule{
		{Name: "reinforce-towers", Priority: 60, Unit: "TOWER_ARCHER", ConditionSrc: `FreeArcherSlots() > 0 && Deficit() <= 5`},
		{Name: "swarm-deficit", Priority: 50, Unit: "GRUNT", ConditionSrc: `Deficit() >= 8`},
		{Name: "hold-line", Priority: 40, Unit: "LIEUTENANT", ConditionSrc: `Deficit() > 0`},
		{Name: "sustain", Priority: 30, Unit: "HEALER", ConditionSrc: `Count("HEALER") * 10 < OwnLaneUnits()`},
		{Name: "flank", Priority: 20, Unit: "CAVALRY", ConditionSrc: `Deficit() <= 0`},
		{Name: "fill-ranks", Priority: 10, Unit: "GRUNT", ConditionSrc: `true`},
	}
}

// compileRules compiles every condition into expr bytecode and sorts by
// priority. Input rules are copied, so the caller's slice is untouched.
func compileRules(rules []*Rule) ([]*Rule, error) {
	out := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		ut, ok := game.ParseUnitType(r.Unit)
		if !ok {
			return nil, errors.Errorf("rule %q: unknown unit type %q", r.Name, r.Unit)
		}
		prog, err := expr.Compile(r.ConditionSrc, expr.Env(RuleEnv{}), expr.AsBool())
		if err != nil {
			return nil, errors.Wrapf(err, "compile rule %q", r.Name)
		}
		c := *r
		c.program = prog
		c.unitType = ut
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out, nil
}

// matches evaluates the compiled condition. Runtime errors count as false.
func (r *Rule) matches(env RuleEnv) (bool, error) {
	result, err := vm.Run(r.program, env)
	if err != nil {
		return false, err
	}
	ok, _ := result.(bool)
	return ok, nil
}
