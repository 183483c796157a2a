package model

import (
	"fmt"
	"strings"
)

// PopulationKind identifies one class of agents.
type PopulationKind int

const (
	PopulationGeneral PopulationKind = iota
	PopulationAid                    // aid-organisation staff
	PopulationElderly
	PopulationLimited // mobility-limited residents
)

// PopulationKinds lists every kind in the fixed order used by the scheduler.
var PopulationKinds = []PopulationKind{
	PopulationGeneral,
	PopulationAid,
	PopulationElderly,
	PopulationLimited,
}

func (k PopulationKind) String() string {
	switch k {
	case PopulationGeneral:
		return "general"
	case PopulationAid:
		return "aid"
	case PopulationElderly:
		return "elderly"
	case PopulationLimited:
		return "limited"
	default:
		return fmt.Sprintf("population(%d)", int(k))
	}
}

// ParsePopulationKind maps a configuration name to a kind.
func ParsePopulationKind(s string) (PopulationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "general", "main":
		return PopulationGeneral, nil
	case "aid", "ngo":
		return PopulationAid, nil
	case "elderly":
		return PopulationElderly, nil
	case "limited", "limited_actions", "limited-mobility":
		return PopulationLimited, nil
	default:
		return 0, fmt.Errorf("unknown population kind %q", s)
	}
}

// PopulationRecord describes Count agents sharing a home edge and an
// optional goal edge. A nil Goal means the source carried no usable goal.
type PopulationRecord struct {
	Count int     `json:"count" yaml:"count"`
	Home  EdgeID  `json:"home" yaml:"home"`
	Goal  *EdgeID `json:"goal,omitempty" yaml:"goal,omitempty"`
}
