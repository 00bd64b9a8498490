package config

import (
	_ "embed"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed units.yaml
var defaultUnitsYAML []byte

// UnitTemplate is the base stat block for one unit type.
type UnitTemplate struct {
	Name            string   `yaml:"name"`
	HP              float64  `yaml:"hp"`
	Damage          float64  `yaml:"damage"`
	AttackRange     float64  `yaml:"attack_range"`
	AggroRange      float64  `yaml:"aggro_range"`
	AttackCooldownS float64  `yaml:"attack_cooldown_s"`
	MoveSpeed       float64  `yaml:"move_speed"`
	RespawnDelayS   float64  `yaml:"respawn_delay_s"`
	Cost            int      `yaml:"cost"`
	Reward          int      `yaml:"reward"`
	Roles           []string `yaml:"roles"`
}

type unitFile struct {
	Units []UnitTemplate `yaml:"units"`
}

// LoadUnits parses unit templates from path, or the embedded defaults when path is empty.
func LoadUnits(path string) ([]UnitTemplate, error) {
	data := defaultUnitsYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read unit stats %s", path)
		}
		data = b
	}
	return ParseUnits(data)
}

// DefaultUnits returns the embedded templates. Panics only if the embedded file is broken.
func DefaultUnits() []UnitTemplate {
	units, err := ParseUnits(defaultUnitsYAML)
	if err != nil {
		panic(err)
	}
	return units
}

// ParseUnits decodes and sanity-checks a unit template document.
func ParseUnits(data []byte) ([]UnitTemplate, error) {
	var f unitFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse unit stats")
	}
	if len(f.Units) == 0 {
		return nil, errors.New("unit stats: no units defined")
	}

	seen := make(map[string]bool, len(f.Units))
	for _, u := range f.Units {
		if u.Name == "" {
			return nil, errors.New("unit stats: template without name")
		}
		if seen[u.Name] {
			return nil, errors.Errorf("unit stats: duplicate template %s", u.Name)
		}
		seen[u.Name] = true
		if u.HP <= 0 {
			return nil, errors.Errorf("unit stats: %s hp must be positive", u.Name)
		}
		if u.AttackCooldownS <= 0 {
			return nil, errors.Errorf("unit stats: %s attack cooldown must be positive", u.Name)
		}
		if u.MoveSpeed < 0 || u.AttackRange < 0 || u.AggroRange < 0 || u.Cost < 0 || u.Reward < 0 {
			return nil, errors.Errorf("unit stats: %s has a negative stat", u.Name)
		}
	}
	return f.Units, nil
}
