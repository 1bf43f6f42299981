package pool

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/agent"
)

// Strategy is one of the six load-balancing strategies named in the pool's
// data model.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastLoaded      Strategy = "least_loaded"
	StrategyRandom           Strategy = "random"
	StrategyWeightedRR       Strategy = "weighted_rr"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyResponseTime     Strategy = "response_time"
)

// Member is one instance tracked by a pool; the load balancer reads
// everything it needs from the wrapped agent.Instance.
type Member struct {
	Instance *agent.Instance
}

// LoadBalancer selects one member from a candidate set. Selection is
// side-effect-free; only Pool.Assign mutates state.
type LoadBalancer interface {
	Select(candidates []*Member) (*Member, error)
	Strategy() Strategy
	Reset()
}

// NewLoadBalancer builds the balancer for the named strategy.
func NewLoadBalancer(strategy Strategy) (LoadBalancer, error) {
	switch strategy {
	case StrategyRoundRobin:
		return &roundRobinBalancer{}, nil
	case StrategyLeastLoaded:
		return &leastLoadedBalancer{}, nil
	case StrategyRandom:
		return &randomBalancer{}, nil
	case StrategyWeightedRR:
		return &weightedRandomBalancer{}, nil
	case StrategyLeastConnections:
		return &leastConnectionsBalancer{}, nil
	case StrategyResponseTime:
		return &responseTimeBalancer{}, nil
	default:
		return nil, fmt.Errorf("unsupported load balancing strategy: %s", strategy)
	}
}

var errNoCandidates = fmt.Errorf("no candidate instances available")

type roundRobinBalancer struct {
	position int64
}

func (b *roundRobinBalancer) Strategy() Strategy { return StrategyRoundRobin }
func (b *roundRobinBalancer) Reset()             { atomic.StoreInt64(&b.position, 0) }

func (b *roundRobinBalancer) Select(candidates []*Member) (*Member, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	next := atomic.AddInt64(&b.position, 1) - 1
	return candidates[int(next)%len(candidates)], nil
}

// instanceLoad computes the LEAST_LOADED score: busy flag plus half the
// queue depth plus resource utilisation.
func instanceLoad(m *Member) float64 {
	snap := m.Instance.Status()
	load := float64(snap.QueueDepth) * 0.5
	if snap.State == agent.StateBusy {
		load += 1
	}
	load += snap.Counters.ResourceUtilization
	return load
}

type leastLoadedBalancer struct{}

func (b *leastLoadedBalancer) Strategy() Strategy { return StrategyLeastLoaded }
func (b *leastLoadedBalancer) Reset()             {}

func (b *leastLoadedBalancer) Select(candidates []*Member) (*Member, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	best := candidates[0]
	bestLoad := instanceLoad(best)
	for _, c := range candidates[1:] {
		if l := instanceLoad(c); l < bestLoad {
			best, bestLoad = c, l
		}
	}
	return best, nil
}

type randomBalancer struct{}

func (b *randomBalancer) Strategy() Strategy { return StrategyRandom }
func (b *randomBalancer) Reset()             {}

func (b *randomBalancer) Select(candidates []*Member) (*Member, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// weightedRandomBalancer implements WEIGHTED_RR: weight is a blend of
// success rate, quality, and idle resource headroom, floored at 0.1, then
// one candidate is drawn by weighted random selection.
type weightedRandomBalancer struct{}

func (b *weightedRandomBalancer) Strategy() Strategy { return StrategyWeightedRR }
func (b *weightedRandomBalancer) Reset()             {}

func candidateWeight(m *Member) float64 {
	snap := m.Instance.Status()
	w := 0.4*snap.Counters.SuccessRate + 0.3*snap.Counters.QualityScore + 0.3*(1-snap.Counters.ResourceUtilization)
	if w < 0.1 {
		w = 0.1
	}
	return w
}

func (b *weightedRandomBalancer) Select(candidates []*Member) (*Member, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	total := 0.0
	weights := make([]float64, len(candidates))
	for i, c := range candidates {
		weights[i] = candidateWeight(c)
		total += weights[i]
	}
	r := rand.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r <= cum {
			return candidates[i], nil
		}
	}
	return candidates[len(candidates)-1], nil
}

type leastConnectionsBalancer struct{}

func (b *leastConnectionsBalancer) Strategy() Strategy { return StrategyLeastConnections }
func (b *leastConnectionsBalancer) Reset()             {}

func (b *leastConnectionsBalancer) Select(candidates []*Member) (*Member, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	best := candidates[0]
	bestScore := leastConnectionsScore(best)
	for _, c := range candidates[1:] {
		if s := leastConnectionsScore(c); s < bestScore {
			best, bestScore = c, s
		}
	}
	return best, nil
}

func leastConnectionsScore(m *Member) int {
	snap := m.Instance.Status()
	score := snap.QueueDepth
	if snap.State == agent.StateBusy {
		score++
	}
	return score
}

type responseTimeBalancer struct{}

func (b *responseTimeBalancer) Strategy() Strategy { return StrategyResponseTime }
func (b *responseTimeBalancer) Reset()             {}

func (b *responseTimeBalancer) Select(candidates []*Member) (*Member, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	best := candidates[0]
	bestTime := best.Instance.Status().Counters.AvgExecutionTime
	for _, c := range candidates[1:] {
		if t := c.Instance.Status().Counters.AvgExecutionTime; t < bestTime {
			best, bestTime = c, t
		}
	}
	return best, nil
}
