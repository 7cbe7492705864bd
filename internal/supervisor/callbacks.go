package supervisor

import (
	"fmt"
	"log"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/pkg/blackboard"
)

// publishError records an agent failure on the blackboard so other agents
// can react to it.
func (s *Supervisor) publishError(r *agent.Runner, _ *agent.Result, err error) {
	now := s.now()
	key := fmt.Sprintf("supervisor:error:%s:%d", r.Name(), now.UnixNano())

	message := ""
	if err != nil {
		message = err.Error()
	}

	s.board.Write(key, map[string]any{
		"agent":     r.Name(),
		"error":     message,
		"timestamp": now.UTC().Format(time.RFC3339Nano),
	}, errorSource,
		blackboard.WithTTL(ErrorEntryTTL),
		blackboard.WithTags("error", "agent_failure"),
	)

	log.Printf("[Supervisor] [WARN] Agent '%s' failed: %s", r.Name(), message)
}

// publishFindings republishes each finding of a completed run and records
// run metrics.
func (s *Supervisor) publishFindings(r *agent.Runner, result *agent.Result, _ error) {
	if result == nil {
		return
	}
	s.metrics.ObserveRun(r.Name(), result.Success, time.Duration(result.DurationMs)*time.Millisecond)

	if len(result.Findings) == 0 {
		return
	}

	base := s.now().UnixNano()
	tag := string(r.Config().Type)
	for i, finding := range result.Findings {
		key := fmt.Sprintf("%s:finding:%d", r.Name(), base+int64(i))
		s.board.Write(key, finding, r.Name(), blackboard.WithTags(tag))
	}
}
