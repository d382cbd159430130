// Package groups aggregates the asynchronous outcomes of the chunks of a
// split transfer into a single result.
package groups

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// Report is the result of applying one chunk outcome.
type Report struct {
	Snapshot domain.GroupSnapshot
	// Terminal is true only for the report that resolved the group.
	Terminal bool
	// Duplicate is true when the chunk had already been applied.
	Duplicate bool
}

type group struct {
	mu      sync.Mutex
	snap    domain.GroupSnapshot
	members map[string]struct{}
	applied map[string]struct{}
}

// Coordinator tracks in-flight transfer groups. Each group has its own
// lock; reports for different groups never contend.
type Coordinator struct {
	mu        sync.RWMutex
	groups    map[string]*group
	clock     domain.Clock
	retention time.Duration
	log       *zap.Logger
}

func NewCoordinator(retention time.Duration, clock domain.Clock, log *zap.Logger) *Coordinator {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		groups:    make(map[string]*group),
		clock:     clock,
		retention: retention,
		log:       log.With(zap.String("component", "groups")),
	}
}

// Create registers a group. Creating an existing id is a no-op that
// returns the existing group; created reports which case happened.
func (c *Coordinator) Create(id string, identity domain.Identity, total int64, chunkCount int, meta domain.GroupMeta) (domain.GroupSnapshot, bool, error) {
	if id == "" {
		return domain.GroupSnapshot{}, false, domain.NewValidationError("group_id", "")
	}
	if chunkCount <= 0 || total <= 0 {
		return domain.GroupSnapshot{}, false, domain.NewValidationError("chunk_count", "")
	}
	if len(meta.ChunkIDs) > 0 && len(meta.ChunkIDs) != chunkCount {
		return domain.GroupSnapshot{}, false, fmt.Errorf("%w: %d chunk ids for %d chunks", domain.ErrValidation, len(meta.ChunkIDs), chunkCount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.groups[id]; ok {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.copy(), false, nil
	}

	g := &group{
		snap: domain.GroupSnapshot{
			ID:          id,
			Identity:    identity,
			TotalAmount: total,
			ChunkCount:  chunkCount,
			Status:      domain.GroupPending,
			Meta:        meta,
			CreatedAt:   c.clock.Now(),
		},
		applied: make(map[string]struct{}, chunkCount),
	}
	if len(meta.ChunkIDs) > 0 {
		g.members = make(map[string]struct{}, chunkCount)
		for _, txID := range meta.ChunkIDs {
			g.members[txID] = struct{}{}
		}
	}
	c.groups[id] = g

	c.log.Info("transfer group created",
		zap.String("group_id", id),
		zap.String("identity", string(identity)),
		zap.Int64("total", total),
		zap.Int("chunks", chunkCount))
	return g.copy(), true, nil
}

// ReportComplete records a completed chunk.
func (c *Coordinator) ReportComplete(groupID string, amount int64, txID string) (Report, error) {
	return c.report(groupID, amount, txID, true)
}

// ReportFailed records a failed chunk.
func (c *Coordinator) ReportFailed(groupID string, amount int64, txID string) (Report, error) {
	return c.report(groupID, amount, txID, false)
}

func (c *Coordinator) report(groupID string, amount int64, txID string, completed bool) (Report, error) {
	g, ok := c.lookup(groupID)
	if !ok {
		return Report{}, fmt.Errorf("group %s: %w", groupID, domain.ErrUnknownReference)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.members != nil {
		if _, member := g.members[txID]; !member {
			return Report{}, fmt.Errorf("transaction %s in group %s: %w", txID, groupID, domain.ErrUnknownReference)
		}
	}
	if _, seen := g.applied[txID]; seen {
		return Report{Snapshot: g.copy(), Duplicate: true}, nil
	}
	if g.snap.Status.Terminal() {
		// Every member has been applied, so only a non-member id can get here.
		return Report{Snapshot: g.copy(), Duplicate: true}, nil
	}

	g.applied[txID] = struct{}{}
	if completed {
		g.snap.CompletedCount++
		g.snap.CompletedAmount += amount
	} else {
		g.snap.FailedCount++
		g.snap.FailedAmount += amount
		g.snap.FailedIDs = append(g.snap.FailedIDs, txID)
	}

	if g.snap.CompletedCount+g.snap.FailedCount < g.snap.ChunkCount {
		return Report{Snapshot: g.copy()}, nil
	}

	switch {
	case g.snap.CompletedCount == 0:
		g.snap.Status = domain.GroupFailed
	case g.snap.FailedCount == 0:
		g.snap.Status = domain.GroupCompleted
	default:
		g.snap.Status = domain.GroupPartial
	}
	g.snap.ResolvedAt = c.clock.Now()

	c.log.Info("transfer group resolved",
		zap.String("group_id", groupID),
		zap.String("status", string(g.snap.Status)),
		zap.Int("completed", g.snap.CompletedCount),
		zap.Int("failed", g.snap.FailedCount))
	return Report{Snapshot: g.copy(), Terminal: true}, nil
}

// Get returns a snapshot of the group.
func (c *Coordinator) Get(groupID string) (domain.GroupSnapshot, bool) {
	g, ok := c.lookup(groupID)
	if !ok {
		return domain.GroupSnapshot{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.copy(), true
}

// Release forgets a group once its outcome has been delivered.
func (c *Coordinator) Release(groupID string) {
	c.mu.Lock()
	delete(c.groups, groupID)
	c.mu.Unlock()
}

// Sweep drops groups created more than the retention window before now,
// resolved or not.
func (c *Coordinator) Sweep(now time.Time) int {
	if c.retention <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, g := range c.groups {
		g.mu.Lock()
		stale := !now.Before(g.snap.CreatedAt.Add(c.retention))
		pending := !g.snap.Status.Terminal()
		g.mu.Unlock()
		if !stale {
			continue
		}
		if pending {
			c.log.Warn("dropping unresolved transfer group", zap.String("group_id", id))
		}
		delete(c.groups, id)
		n++
	}
	return n
}

func (c *Coordinator) lookup(id string) (*group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[id]
	return g, ok
}

func (g *group) copy() domain.GroupSnapshot {
	s := g.snap
	s.FailedIDs = append([]string(nil), g.snap.FailedIDs...)
	s.Meta.ChunkIDs = append([]string(nil), g.snap.Meta.ChunkIDs...)
	return s
}
