// Package pool implements the per-role agent pool: load balancing,
// auto-scaling, and health monitoring over a fleet of agent instances.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/agent"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

var (
	ErrNoInstanceAvailable = errors.New("no instance available")
	ErrScaleOutOfBounds    = errors.New("requested instance count is out of pool bounds")
)

// ScalingThresholds configures the auto-scaler's tick decisions, per the
// AgentPool data model.
type ScalingThresholds struct {
	ScaleUpLoad       float64
	ScaleDownLoad     float64
	QueueThreshold    int
	MinInstances      int
	MaxInstances      int
	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration
}

// DefaultScalingThresholds returns the load and cooldown defaults used
// unless an operator overrides them per role.
func DefaultScalingThresholds(min, max int) ScalingThresholds {
	return ScalingThresholds{
		ScaleUpLoad:       0.8,
		ScaleDownLoad:     0.2,
		QueueThreshold:    5,
		MinInstances:      min,
		MaxInstances:      max,
		ScaleUpCooldown:   60 * time.Second,
		ScaleDownCooldown: 120 * time.Second,
	}
}

// Metrics aggregates the pool-level figures a status query reports.
type Metrics struct {
	TotalInstances  int
	IdleInstances   int
	BusyInstances   int
	FailedInstances int
	QueuedTasks     int
	SuccessRate     float64
	AvgResponseTime time.Duration
	CurrentLoad     float64
	PeakLoad        float64
}

type queuedTask struct {
	task      *task.AgentTask
	callback  func(*task.AgentResult)
	queuedAt  time.Time
}

// InstanceFactory builds and initializes a fresh instance for this pool's
// role; used both when scaling up and when replacing a failed instance.
type InstanceFactory func() (*agent.Instance, error)

// Pool is the per-role collection of agent instances.
type Pool struct {
	Role string

	mu        sync.RWMutex
	instances []*Member
	queue     []*queuedTask

	balancer   LoadBalancer
	thresholds ScalingThresholds
	newInstance InstanceFactory

	lastScaleUp   time.Time
	lastScaleDown time.Time
	metrics       Metrics
	scaling       bool

	tickInterval time.Duration
	logger       logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a new Pool.
type Config struct {
	Role         string
	Strategy     Strategy
	Thresholds   ScalingThresholds
	TickInterval time.Duration
	NewInstance  InstanceFactory
	Logger       logrus.FieldLogger
}

// New constructs a pool and brings it up to MinInstances.
func New(cfg Config) (*Pool, error) {
	balancer, err := NewLoadBalancer(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		Role:         cfg.Role,
		balancer:     balancer,
		thresholds:   cfg.Thresholds,
		newInstance:  cfg.NewInstance,
		tickInterval: cfg.TickInterval,
		logger:       cfg.Logger.WithField("pool_role", cfg.Role),
		ctx:          ctx,
		cancel:       cancel,
	}

	for i := 0; i < cfg.Thresholds.MinInstances; i++ {
		inst, err := p.newInstance()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to seed pool with min instances: %w", err)
		}
		p.instances = append(p.instances, &Member{Instance: inst})
	}

	p.wg.Add(1)
	go p.tickLoop()

	return p, nil
}

// aliveMembers returns instances that are not FAILED or TERMINATED. Must be
// called with p.mu held (read or write).
func (p *Pool) aliveMembers() []*Member {
	alive := make([]*Member, 0, len(p.instances))
	for _, m := range p.instances {
		st := m.Instance.Status().State
		if st == agent.StateError || st == agent.StateTerminated {
			continue
		}
		alive = append(alive, m)
	}
	return alive
}

func idleMembers(members []*Member) []*Member {
	idle := make([]*Member, 0, len(members))
	for _, m := range members {
		if m.Instance.IsIdle() {
			idle = append(idle, m)
		}
	}
	return idle
}

// Assign selects an instance for t and hands it off. If no IDLE instance is
// available, t is appended to the pool's inbound queue, scaling is
// evaluated at once, and nil is returned. When an instance is chosen,
// scaling is left to the pool's periodic tick.
func (p *Pool) Assign(t *task.AgentTask, callback func(*task.AgentResult)) (*agent.Instance, error) {
	p.mu.Lock()
	alive := p.aliveMembers()
	idle := idleMembers(alive)

	var chosen *Member
	if len(idle) > 0 {
		m, err := p.balancer.Select(idle)
		if err == nil {
			chosen = m
		}
	}

	if chosen == nil {
		p.queue = append(p.queue, &queuedTask{task: t, callback: callback, queuedAt: time.Now()})
		p.recomputeLoadLocked()
		p.mu.Unlock()
		p.scalingTick()
		return nil, nil
	}
	p.recomputeLoadLocked()
	p.mu.Unlock()

	if err := chosen.Instance.Enqueue(t, callback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInstanceAvailable, err)
	}
	return chosen.Instance, nil
}

// Complete updates pool-level metrics after a task finishes, and if the
// pool's inbound queue is non-empty and the instance is idle, hands it the
// next queued task.
func (p *Pool) Complete(instanceID string, success bool, execTime time.Duration, quality float64) (*agent.Instance, error) {
	p.mu.Lock()
	s := 0.0
	if success {
		s = 1.0
	}
	p.metrics.SuccessRate = p.metrics.SuccessRate*0.9 + s*0.1
	p.metrics.AvgResponseTime = time.Duration(float64(p.metrics.AvgResponseTime)*0.9 + float64(execTime)*0.1)

	var member *Member
	for _, m := range p.instances {
		if m.Instance.ID == instanceID {
			member = m
			break
		}
	}
	if member == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("instance %s not found in pool %s", instanceID, p.Role)
	}

	var next *queuedTask
	if len(p.queue) > 0 && member.Instance.IsIdle() {
		next = p.queue[0]
		p.queue = p.queue[1:]
	}
	p.recomputeLoadLocked()
	p.mu.Unlock()

	if next == nil {
		return nil, nil
	}
	if err := member.Instance.Enqueue(next.task, next.callback); err != nil {
		return nil, err
	}
	return member.Instance, nil
}

// recomputeLoadLocked updates CurrentLoad/PeakLoad. Must be called with
// p.mu held.
func (p *Pool) recomputeLoadLocked() {
	alive := p.aliveMembers()
	if len(alive) == 0 {
		p.metrics.CurrentLoad = 0
		return
	}
	busy := 0
	for _, m := range alive {
		if m.Instance.Status().State == agent.StateBusy {
			busy++
		}
	}
	load := float64(busy) / float64(len(alive))
	p.metrics.CurrentLoad = load
	if load > p.metrics.PeakLoad {
		p.metrics.PeakLoad = load
	}
}

// Status aggregates per-pool figures.
func (p *Pool) Status() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{SuccessRate: p.metrics.SuccessRate, AvgResponseTime: p.metrics.AvgResponseTime, CurrentLoad: p.metrics.CurrentLoad, PeakLoad: p.metrics.PeakLoad}
	m.TotalInstances = len(p.instances)
	m.QueuedTasks = len(p.queue)
	for _, inst := range p.instances {
		switch inst.Instance.Status().State {
		case agent.StateReady:
			m.IdleInstances++
		case agent.StateBusy:
			m.BusyInstances++
		case agent.StateError:
			m.FailedInstances++
		}
	}
	return m
}

// ForceScale is an operator override that sets the instance count within
// [min, max] bounds.
func (p *Pool) ForceScale(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < p.thresholds.MinInstances || n > p.thresholds.MaxInstances {
		return ErrScaleOutOfBounds
	}

	for len(p.instances) < n {
		inst, err := p.newInstance()
		if err != nil {
			return err
		}
		p.instances = append(p.instances, &Member{Instance: inst})
	}
	for len(p.instances) > n {
		p.removeOneIdleLocked()
	}
	return nil
}

func (p *Pool) removeOneIdleLocked() bool {
	for i, m := range p.instances {
		if m.Instance.IsIdle() {
			go m.Instance.Cleanup(context.Background())
			p.instances = append(p.instances[:i], p.instances[i+1:]...)
			return true
		}
	}
	return false
}

// Cleanup stops the pool's ticker and then shuts down every instance, each
// of which ends TERMINATED. No instance is marked SCALING_DOWN; the agent
// state machine has no such state.
func (p *Pool) Cleanup(ctx context.Context) {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	members := append([]*Member{}, p.instances...)
	p.mu.Unlock()

	for _, m := range members {
		_ = m.Instance.Cleanup(ctx)
	}
}

func (p *Pool) tickLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.healthTick()
			p.scalingTick()
		}
	}
}

// healthTick recomputes load and replaces any FAILED instance up to
// MinInstances, requeueing its current task to the front of the queue.
func (p *Pool) healthTick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recomputeLoadLocked()

	var failed []*Member
	var survivors []*Member
	for _, m := range p.instances {
		if m.Instance.Status().State == agent.StateError {
			failed = append(failed, m)
		} else {
			survivors = append(survivors, m)
		}
	}
	if len(failed) == 0 {
		return
	}
	p.instances = survivors

	for _, m := range failed {
		work := m.Instance.Drain()
		if len(work) == 0 {
			continue
		}
		p.logger.WithFields(logrus.Fields{"instance_id": m.Instance.ID, "requeued": len(work)}).
			Warn("requeueing work from failed instance")
		requeued := make([]*queuedTask, len(work))
		for i, w := range work {
			requeued[i] = &queuedTask{task: w.Task, callback: w.Callback, queuedAt: time.Now()}
		}
		p.queue = append(requeued, p.queue...)
	}

	for len(p.instances) < p.thresholds.MinInstances {
		inst, err := p.newInstance()
		if err != nil {
			p.logger.WithError(err).Error("failed to replace failed instance")
			break
		}
		p.instances = append(p.instances, &Member{Instance: inst})
	}
}

// scalingTick evaluates the scale-up/scale-down preconditions.
func (p *Pool) scalingTick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	load := p.metrics.CurrentLoad
	queueLen := len(p.queue)
	now := time.Now()

	scaleUp := (load > p.thresholds.ScaleUpLoad || queueLen > p.thresholds.QueueThreshold) &&
		len(p.instances) < p.thresholds.MaxInstances &&
		now.Sub(p.lastScaleUp) >= p.thresholds.ScaleUpCooldown &&
		!p.scaling

	if scaleUp {
		inst, err := p.newInstance()
		if err != nil {
			p.logger.WithError(err).Error("failed to scale up")
			return
		}
		p.instances = append(p.instances, &Member{Instance: inst})
		p.lastScaleUp = now
		if len(p.queue) > 0 {
			next := p.queue[0]
			p.queue = p.queue[1:]
			_ = inst.Enqueue(next.task, next.callback)
		}
		p.logger.WithField("instance_count", len(p.instances)).Info("scaled up")
		return
	}

	scaleDown := load < p.thresholds.ScaleDownLoad &&
		queueLen == 0 &&
		len(p.instances) > p.thresholds.MinInstances &&
		now.Sub(p.lastScaleDown) >= p.thresholds.ScaleDownCooldown

	if scaleDown {
		if p.removeOneIdleLocked() {
			p.lastScaleDown = now
			p.logger.WithField("instance_count", len(p.instances)).Info("scaled down")
		}
	}
}
