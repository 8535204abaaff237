package models

import "time"

const (
	StatusUp   = "up"
	StatusDown = "down"
)

// Snapshot is the most recent resource report received from one host.
// Status is never stored on it; see ServerStatus.
type Snapshot struct {
	Hostname   string    `json:"hostname"`
	ObservedAt time.Time `json:"observed_at"`
	IP         string    `json:"ip"`
	CPUPercent float64   `json:"cpu"`
	RAMTotal   int64     `json:"ramTotal"`
	RAMUsed    int64     `json:"ramUsed"`
	DiskTotal  int64     `json:"diskTotal"`
	DiskUsed   int64     `json:"diskUsed"`
	NetIn      int64     `json:"netIn"`
	NetOut     int64     `json:"netOut"`
}

type ServerStatus struct {
	Name      string  `json:"name"`
	IP        string  `json:"ip"`
	Status    string  `json:"status"`
	CPU       float64 `json:"cpu"`
	RAMTotal  int64   `json:"ramTotal"`
	RAMUsed   int64   `json:"ramUsed"`
	DiskTotal int64   `json:"diskTotal"`
	DiskUsed  int64   `json:"diskUsed"`
	NetIn     int64   `json:"netIn"`
	NetOut    int64   `json:"netOut"`
}

type FleetSample struct {
	Up     int
	Down   int
	AvgCPU float64
	AvgRAM float64
}

// FleetHistory holds the four aligned history windows, oldest sample first.
type FleetHistory struct {
	Up   []int     `json:"up"`
	Down []int     `json:"down"`
	CPU  []float64 `json:"cpu"`
	RAM  []float64 `json:"ram"`
}

type FleetView struct {
	Servers []ServerStatus `json:"servers"`
	History FleetHistory   `json:"history"`
}
