package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type runsCollectorType struct {
	mu    sync.Mutex
	runs  map[string]uint64
	steps map[string]uint64
}

var runsCollector = &runsCollectorType{
	runs:  make(map[string]uint64),
	steps: make(map[string]uint64),
}

// ObserveRunCompleted counts a strategy run reaching a terminal status.
func ObserveRunCompleted(status string) {
	runsCollector.mu.Lock()
	runsCollector.runs[status]++
	runsCollector.mu.Unlock()
}

// ObserveStepStatus counts step status transitions by resulting status.
func ObserveStepStatus(status string) {
	runsCollector.mu.Lock()
	runsCollector.steps[status]++
	runsCollector.mu.Unlock()
}

func (c *runsCollectorType) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.WriteString("# HELP klimaflow_runs_total Total number of strategy runs by terminal status.\n")
	builder.WriteString("# TYPE klimaflow_runs_total counter\n")
	for _, status := range sortedKeys(c.runs) {
		builder.WriteString(fmt.Sprintf("klimaflow_runs_total{status=\"%s\"} %d\n", escape(status), c.runs[status]))
	}

	builder.WriteString("# HELP klimaflow_run_steps_total Total number of step status transitions.\n")
	builder.WriteString("# TYPE klimaflow_run_steps_total counter\n")
	for _, status := range sortedKeys(c.steps) {
		builder.WriteString(fmt.Sprintf("klimaflow_run_steps_total{status=\"%s\"} %d\n", escape(status), c.steps[status]))
	}
	return builder.String()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
