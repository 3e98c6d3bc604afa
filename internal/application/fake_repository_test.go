package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	poolDomain "github.com/replyloop/service-codepool/internal/domain/pool"
	"github.com/replyloop/service-codepool/pkg/domain"
)

type poolRecord struct {
	id          uuid.UUID
	ownerID     uuid.UUID
	name        string
	description *string
	total       int
	assigned    int
	createdAt   time.Time
	updatedAt   time.Time
}

type fakeState struct {
	pools       map[uuid.UUID]poolRecord
	codes       []poolDomain.Code
	assignments []poolDomain.Assignment
	seq         int64
}

func (s fakeState) clone() fakeState {
	c := fakeState{
		pools:       make(map[uuid.UUID]poolRecord, len(s.pools)),
		codes:       append([]poolDomain.Code(nil), s.codes...),
		assignments: append([]poolDomain.Assignment(nil), s.assignments...),
		seq:         s.seq,
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	return c
}

// fakeRepository is an in-memory pool.Repository. Transactions are
// serialised and roll back on error.
type fakeRepository struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state fakeState

	findErr           error
	claimErr          error
	hideAssignmentsOn int // FindAssignment returns nil while > 0
	claimCalls        int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{state: fakeState{pools: make(map[uuid.UUID]poolRecord)}}
}

func (f *fakeRepository) Transaction(ctx context.Context, fn func(tx poolDomain.Repository) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	snapshot := f.state.clone()
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.state = snapshot
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeRepository) CreatePool(_ context.Context, p *poolDomain.Pool, codes []*poolDomain.Code) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.pools[p.ID()] = poolRecord{
		id: p.ID(), ownerID: p.OwnerID(), name: p.Name(), description: p.Description(),
		total: len(codes), createdAt: p.CreatedAt(), updatedAt: p.UpdatedAt(),
	}
	for _, c := range codes {
		f.state.seq++
		c.Seq = f.state.seq
		f.state.codes = append(f.state.codes, *c)
	}
	return nil
}

func (f *fakeRepository) UpdatePool(_ context.Context, u *poolDomain.PoolUpdate) (*poolDomain.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.ownedLocked(u.PoolID, u.OwnerID)
	if err != nil {
		return nil, err
	}

	if u.Codes != nil {
		current := f.codesLocked(u.PoolID)
		toAdd, toRemove := poolDomain.CodeDiff(current, u.Codes)
		remove := make(map[uuid.UUID]bool, len(toRemove))
		for _, c := range toRemove {
			if c.IsAssigned {
				return nil, domain.NewConstraintError("code " + c.Text + " has already been assigned and cannot be removed")
			}
			remove[c.ID] = true
		}
		kept := f.state.codes[:0:0]
		for _, c := range f.state.codes {
			if !remove[c.ID] {
				kept = append(kept, c)
			}
		}
		f.state.codes = kept
		p := poolDomain.Reconstruct(rec.id, rec.ownerID, rec.name, rec.description, rec.total, rec.assigned, rec.createdAt, rec.updatedAt)
		for _, c := range p.NewCodes(toAdd) {
			f.state.seq++
			c.Seq = f.state.seq
			f.state.codes = append(f.state.codes, *c)
		}
		rec.total = len(f.codesLocked(u.PoolID))
	}
	if u.Name != nil {
		rec.name = *u.Name
	}
	if u.Description != nil {
		d := *u.Description
		rec.description = &d
	}
	rec.updatedAt = time.Now().UTC()
	f.state.pools[rec.id] = rec
	return f.toPool(rec), nil
}

func (f *fakeRepository) DeletePool(_ context.Context, poolID, ownerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.ownedLocked(poolID, ownerID)
	if err != nil {
		return err
	}
	for _, a := range f.state.assignments {
		if a.PoolID == poolID {
			return domain.NewConstraintError("pool has already issued codes and cannot be deleted")
		}
	}
	if rec.assigned > 0 {
		return domain.NewConstraintError("pool has already issued codes and cannot be deleted")
	}

	kept := f.state.codes[:0:0]
	for _, c := range f.state.codes {
		if c.PoolID != poolID {
			kept = append(kept, c)
		}
	}
	f.state.codes = kept
	delete(f.state.pools, poolID)
	return nil
}

func (f *fakeRepository) FindPool(_ context.Context, poolID uuid.UUID) (*poolDomain.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.state.pools[poolID]
	if !ok {
		return nil, domain.NewNotFoundError("pool", poolID.String())
	}
	return f.toPool(rec), nil
}

func (f *fakeRepository) ListPoolsByOwner(_ context.Context, ownerID uuid.UUID) ([]*poolDomain.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pools []*poolDomain.Pool
	for _, rec := range f.state.pools {
		if rec.ownerID == ownerID {
			pools = append(pools, f.toPool(rec))
		}
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].CreatedAt().After(pools[j].CreatedAt()) })
	return pools, nil
}

func (f *fakeRepository) ListCodes(_ context.Context, poolID uuid.UUID) ([]*poolDomain.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codesLocked(poolID), nil
}

func (f *fakeRepository) ListAssignments(_ context.Context, poolID uuid.UUID, page, limit int) ([]*poolDomain.Assignment, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []*poolDomain.Assignment
	for i := range f.state.assignments {
		if f.state.assignments[i].PoolID == poolID {
			a := f.state.assignments[i]
			all = append(all, &a)
		}
	}
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (f *fakeRepository) CountPoolAssignments(_ context.Context, poolID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, a := range f.state.assignments {
		if a.PoolID == poolID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepository) FindAssignment(_ context.Context, automationID uuid.UUID, eventID string) (*poolDomain.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.hideAssignmentsOn > 0 {
		f.hideAssignmentsOn--
		return nil, nil
	}
	for _, a := range f.state.assignments {
		if a.AutomationID == automationID && a.EventID == eventID {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) CountAssignments(_ context.Context, automationID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, a := range f.state.assignments {
		if a.AutomationID == automationID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepository) ClaimUnassignedCode(_ context.Context, poolID uuid.UUID) (*poolDomain.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.claimCalls++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	rec, ok := f.state.pools[poolID]
	if !ok {
		return nil, domain.NewNotFoundError("pool", poolID.String())
	}

	best := -1
	for i, c := range f.state.codes {
		if c.PoolID == poolID && !c.IsAssigned && (best < 0 || c.Seq < f.state.codes[best].Seq) {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	f.state.codes[best].IsAssigned = true
	f.state.codes[best].AssignedAt = &now
	rec.assigned++
	f.state.pools[poolID] = rec

	claimed := f.state.codes[best]
	return &claimed, nil
}

func (f *fakeRepository) RecordAssignment(_ context.Context, a *poolDomain.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.state.assignments {
		if existing.AutomationID == a.AutomationID && existing.EventID == a.EventID {
			return domain.NewDuplicateAssignmentError(a.AutomationID.String(), a.EventID)
		}
	}
	f.state.assignments = append(f.state.assignments, *a)
	return nil
}

func (f *fakeRepository) ownedLocked(poolID, ownerID uuid.UUID) (poolRecord, error) {
	rec, ok := f.state.pools[poolID]
	if !ok {
		return poolRecord{}, domain.NewNotFoundError("pool", poolID.String())
	}
	if rec.ownerID != ownerID {
		return poolRecord{}, domain.NewAccessDeniedError("pool belongs to another account")
	}
	return rec, nil
}

func (f *fakeRepository) codesLocked(poolID uuid.UUID) []*poolDomain.Code {
	var codes []*poolDomain.Code
	for i := range f.state.codes {
		if f.state.codes[i].PoolID == poolID {
			c := f.state.codes[i]
			codes = append(codes, &c)
		}
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Seq < codes[j].Seq })
	return codes
}

func (f *fakeRepository) toPool(rec poolRecord) *poolDomain.Pool {
	return poolDomain.Reconstruct(rec.id, rec.ownerID, rec.name, rec.description, rec.total, rec.assigned, rec.createdAt, rec.updatedAt)
}

func (f *fakeRepository) addAssignment(a poolDomain.Assignment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.assignments = append(f.state.assignments, a)
}

func (f *fakeRepository) assignedCount(poolID uuid.UUID) (counter, flagged, records int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	counter = f.state.pools[poolID].assigned
	for _, c := range f.state.codes {
		if c.PoolID == poolID && c.IsAssigned {
			flagged++
		}
	}
	for _, a := range f.state.assignments {
		if a.PoolID == poolID {
			records++
		}
	}
	return counter, flagged, records
}

var _ poolDomain.Repository = (*fakeRepository)(nil)
