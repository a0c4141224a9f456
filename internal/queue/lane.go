package queue

// Lane is the priority class assigned to an accepted event. Hot drains
// before standard, standard before backfill.
type Lane int

const (
	LaneHot Lane = iota
	LaneStandard
	LaneBackfill
)

var laneNames = map[Lane]string{
	LaneHot:      "hot",
	LaneStandard: "standard",
	LaneBackfill: "backfill",
}

func (l Lane) String() string {
	if name, ok := laneNames[l]; ok {
		return name
	}
	return "unknown"
}

// Lanes lists every lane in drain order.
func Lanes() []Lane {
	return []Lane{LaneHot, LaneStandard, LaneBackfill}
}
