package pool

import "time"

// InstanceStats describes one engine instance.
type InstanceStats struct {
	ID         string    `json:"id"`
	LeaseCount int       `json:"lease_count"`
	Healthy    bool      `json:"healthy"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats is a point-in-time snapshot of pool usage.
type Stats struct {
	Instances         int             `json:"instances"`
	Leases            int             `json:"leases"`
	Launching         int             `json:"launching"`
	Size              int             `json:"size"`
	LeasesPerInstance int             `json:"leases_per_instance"`
	PerInstance       []InstanceStats `json:"per_instance"`
}

// Stats returns instance and lease counts plus per-instance usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{
		Instances:         len(p.instances),
		Leases:            len(p.leases),
		Launching:         p.launching,
		Size:              p.cfg.Size,
		LeasesPerInstance: p.cfg.LeasesPerInstance,
		PerInstance:       make([]InstanceStats, 0, len(p.order)),
	}
	for _, id := range p.order {
		inst := p.instances[id]
		st.PerInstance = append(st.PerInstance, InstanceStats{
			ID:         inst.id,
			LeaseCount: inst.leaseCount,
			Healthy:    inst.healthy,
			LastUsedAt: inst.lastUsedAt,
			CreatedAt:  inst.createdAt,
		})
	}
	return st
}

// Live reports how many instances are registered and not being launched.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}
