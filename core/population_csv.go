package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

// Column layout of population tables: a header row, then one row per road
// segment with the agent count, home ROAD_ID and goal ROAD_ID.
const (
	csvCountColumn = 2
	csvHomeColumn  = 3
	csvGoalColumn  = 4
)

// ReadPopulationCSV parses a population table. An empty or unparseable
// goal column leaves Goal nil so the loader falls back to the goal pool.
func ReadPopulationCSV(r io.Reader) ([]model.PopulationRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []model.PopulationRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) <= csvHomeColumn {
			return nil, fmt.Errorf("line %d: expected at least %d columns, got %d", line, csvHomeColumn+1, len(row))
		}

		count, err := parseCount(row[csvCountColumn])
		if err != nil {
			return nil, fmt.Errorf("line %d: count: %w", line, err)
		}
		home, err := kb.ParseEdgeID(row[csvHomeColumn])
		if err != nil {
			return nil, fmt.Errorf("line %d: home: %w", line, err)
		}

		rec := model.PopulationRecord{Count: count, Home: home}
		if len(row) > csvGoalColumn && strings.TrimSpace(row[csvGoalColumn]) != "" {
			if goal, err := kb.ParseEdgeID(row[csvGoalColumn]); err == nil {
				rec.Goal = &goal
			}
		}
		out = append(out, rec)
	}
}

func parseCount(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("invalid count %q", raw)
	}
	return int(f), nil
}

// CSVPopulationSource reads one population table per kind. Kinds without
// a path are served by Fallback when set.
type CSVPopulationSource struct {
	Paths    map[model.PopulationKind]string
	Fallback PopulationSource
}

// PopulationRecords implements PopulationSource.
func (s CSVPopulationSource) PopulationRecords(kind model.PopulationKind) ([]model.PopulationRecord, error) {
	path, ok := s.Paths[kind]
	if !ok || path == "" {
		if s.Fallback != nil {
			return s.Fallback.PopulationRecords(kind)
		}
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open population file %q: %w", path, err)
	}
	defer f.Close()

	recs, err := ReadPopulationCSV(f)
	if err != nil {
		return nil, fmt.Errorf("population file %q: %w", path, err)
	}
	return recs, nil
}
