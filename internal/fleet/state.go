// Package fleet holds the collector's live view of the fleet: the latest
// snapshot per host and the bounded history of fleet-wide aggregates.
//
// Both live only in memory and are reset when the process restarts.
package fleet

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/barak1panker/server-monitoring/internal/models"
)

const (
	DefaultHistorySize = 20
	DefaultStaleAfter  = 30 * time.Second
)

type State struct {
	staleAfter time.Duration

	mu    sync.RWMutex
	hosts map[string]models.Snapshot

	// histMu guards all four rings together so they always hold the same
	// number of aligned samples.
	histMu sync.Mutex
	up     *Ring[int]
	down   *Ring[int]
	cpu    *Ring[float64]
	ram    *Ring[float64]
}

func NewState(staleAfter time.Duration, historySize int) *State {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &State{
		staleAfter: staleAfter,
		hosts:      make(map[string]models.Snapshot),
		up:         NewRing[int](historySize),
		down:       NewRing[int](historySize),
		cpu:        NewRing[float64](historySize),
		ram:        NewRing[float64](historySize),
	}
}

// Update stores s as the latest snapshot for its host, replacing any prior one.
func (st *State) Update(s models.Snapshot) {
	st.mu.Lock()
	st.hosts[s.Hostname] = s
	st.mu.Unlock()
}

// StatusAt derives the liveness of a snapshot. A host is up while the age of
// its last report does not exceed the staleness threshold.
func (st *State) StatusAt(s models.Snapshot, now time.Time) string {
	if now.Sub(s.ObservedAt) <= st.staleAfter {
		return models.StatusUp
	}
	return models.StatusDown
}

// View returns every cached host with its derived status, sorted by name.
func (st *State) View(now time.Time) []models.ServerStatus {
	st.mu.RLock()
	servers := make([]models.ServerStatus, 0, len(st.hosts))
	for _, s := range st.hosts {
		servers = append(servers, models.ServerStatus{
			Name:      s.Hostname,
			IP:        s.IP,
			Status:    st.StatusAt(s, now),
			CPU:       s.CPUPercent,
			RAMTotal:  s.RAMTotal,
			RAMUsed:   s.RAMUsed,
			DiskTotal: s.DiskTotal,
			DiskUsed:  s.DiskUsed,
			NetIn:     s.NetIn,
			NetOut:    s.NetOut,
		})
	}
	st.mu.RUnlock()

	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers
}

// Aggregate computes the fleet-wide sample for the given server list.
func Aggregate(servers []models.ServerStatus) models.FleetSample {
	var sample models.FleetSample
	if len(servers) == 0 {
		return sample
	}

	var cpuSum, ramSum float64
	for _, s := range servers {
		if s.Status == models.StatusUp {
			sample.Up++
		} else {
			sample.Down++
		}
		cpuSum += s.CPU
		if s.RAMTotal > 0 {
			ramSum += float64(s.RAMUsed) / float64(s.RAMTotal) * 100
		}
	}

	n := float64(len(servers))
	sample.AvgCPU = round2(cpuSum / n)
	sample.AvgRAM = round2(ramSum / n)
	return sample
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Sample appends one fleet aggregate, computed at now, to the history.
func (st *State) Sample(now time.Time) models.FleetSample {
	st.histMu.Lock()
	defer st.histMu.Unlock()

	sample := Aggregate(st.View(now))
	st.push(sample)
	return sample
}

func (st *State) push(sample models.FleetSample) {
	st.up.Push(sample.Up)
	st.down.Push(sample.Down)
	st.cpu.Push(sample.AvgCPU)
	st.ram.Push(sample.AvgRAM)
}

func (st *State) History() models.FleetHistory {
	st.histMu.Lock()
	defer st.histMu.Unlock()
	return st.historyLocked()
}

func (st *State) historyLocked() models.FleetHistory {
	return models.FleetHistory{
		Up:   st.up.Values(),
		Down: st.down.Values(),
		CPU:  st.cpu.Values(),
		RAM:  st.ram.Values(),
	}
}

// FleetView returns the current servers and the history windows. With sample
// set, the aggregate of exactly the returned servers is appended to the history
// before it is read, so the sampling cadence follows the read cadence.
func (st *State) FleetView(now time.Time, sample bool) models.FleetView {
	st.histMu.Lock()
	defer st.histMu.Unlock()

	servers := st.View(now)
	if sample {
		st.push(Aggregate(servers))
	}

	return models.FleetView{
		Servers: servers,
		History: st.historyLocked(),
	}
}

// RunSampler appends one sample every interval until ctx is done.
func (st *State) RunSampler(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s := st.Sample(now)
			logger.Debug("fleet sample", "up", s.Up, "down", s.Down, "avg_cpu", s.AvgCPU, "avg_ram", s.AvgRAM)
		}
	}
}
