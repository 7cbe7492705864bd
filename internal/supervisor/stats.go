package supervisor

import (
	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/pkg/blackboard"
)

// Stats is a point-in-time summary of the supervisor and its agents.
type Stats struct {
	Running     bool                 `json:"running"`
	TotalAgents int                  `json:"total_agents"`
	ByStatus    map[agent.Status]int `json:"by_status"`
	ByType      map[agent.Type]int   `json:"by_type"`
	TotalRuns   int                  `json:"total_runs"`
	TotalErrors int                  `json:"total_errors"`
	TotalTokens int                  `json:"total_tokens"`
	Restarts    map[string]int       `json:"restarts"`
	Agents      []agent.Stats        `json:"agents"`
	Blackboard  blackboard.Stats     `json:"blackboard"`
	Schedules   int                  `json:"schedules"`
}

// GetStats collects counters from every agent, ordered as ListAgents.
func (s *Supervisor) GetStats() Stats {
	stats := Stats{
		Running:  s.Running(),
		ByStatus: make(map[agent.Status]int),
		ByType:   make(map[agent.Type]int),
		Restarts: make(map[string]int),
	}

	for _, runner := range s.ListAgents() {
		as := runner.Stats()
		stats.Agents = append(stats.Agents, as)
		stats.TotalAgents++
		stats.ByStatus[as.Status]++
		stats.ByType[as.Type]++
		stats.TotalRuns += as.TotalRuns
		stats.TotalErrors += as.ErrorCount
		stats.TotalTokens += as.TotalTokens
		if n := s.RestartCount(as.Name); n > 0 {
			stats.Restarts[as.Name] = n
		}
	}

	stats.Blackboard = s.board.Stats()
	if s.scheduler != nil {
		stats.Schedules = len(s.scheduler.Schedules())
	}
	return stats
}
