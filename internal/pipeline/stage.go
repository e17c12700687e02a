package pipeline

import "fmt"

// Stage is a step of the crawl lifecycle. Stages only move forward.
type Stage int32

const (
	StageInit Stage = iota
	StagePaginating
	StageDeduping
	StageFetchingDetails
	StageSorting
	StageHashing
	StageWriting
	StageDone
)

var stageNames = [...]string{
	StageInit:            "INIT",
	StagePaginating:      "PAGINATING",
	StageDeduping:        "DEDUPING",
	StageFetchingDetails: "FETCHING_DETAILS",
	StageSorting:         "SORTING",
	StageHashing:         "HASHING",
	StageWriting:         "WRITING",
	StageDone:            "DONE",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}
