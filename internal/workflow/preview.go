package workflow

import "github.com/msageha/docflow/internal/model"

// PreviewWaves groups plan documents into the waves a run would use if every
// document succeeded. Dependencies outside the plan are ignored.
func PreviewWaves(plan model.ExecutionPlan, dependencies func(id string) []string) [][]string {
	level := make(map[string]int, len(plan))
	inPlan := make(map[string]bool, len(plan))
	for _, id := range plan {
		inPlan[id] = true
	}
	var waves [][]string
	for _, id := range plan {
		lvl := 0
		for _, dep := range dependencies(id) {
			if !inPlan[dep] {
				continue
			}
			if l, ok := level[dep]; ok && l+1 > lvl {
				lvl = l + 1
			}
		}
		level[id] = lvl
		for len(waves) <= lvl {
			waves = append(waves, nil)
		}
		waves[lvl] = append(waves[lvl], id)
	}
	return waves
}
