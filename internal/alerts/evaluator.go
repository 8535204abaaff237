package alerts

import (
	"fmt"
	"strings"

	"github.com/barak1panker/server-monitoring/internal/models"
)

type Thresholds struct {
	CPUHigh      float64
	RAMRatioHigh float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{CPUHigh: 90, RAMRatioHigh: 0.9}
}

// Breached reports whether either resource threshold is met or exceeded.
func (th Thresholds) Breached(cpu, ramRatio float64) bool {
	return cpu >= th.CPUHigh || ramRatio >= th.RAMRatioHigh
}

// EvaluateResource returns a RESOURCE alert for a report whose cpu or ram ratio
// reaches its threshold, or nil. The description names every breached threshold.
func EvaluateResource(hostname string, cpu, ramRatio float64, th Thresholds) *models.Alert {
	if !th.Breached(cpu, ramRatio) {
		return nil
	}

	var reasons []string
	if cpu >= th.CPUHigh {
		reasons = append(reasons, fmt.Sprintf("CPU %.1f%% >= %.1f%%", cpu, th.CPUHigh))
	}
	if ramRatio >= th.RAMRatioHigh {
		reasons = append(reasons, fmt.Sprintf("RAM ratio %.2f >= %.2f", ramRatio, th.RAMRatioHigh))
	}

	return &models.Alert{
		Hostname:    hostname,
		Category:    models.CategoryResource,
		Severity:    models.SeverityCritical,
		Label:       models.LabelCritical,
		Description: "Resource usage threshold exceeded: " + strings.Join(reasons, ", "),
		CPU:         &cpu,
		RAMRatio:    &ramRatio,
	}
}

// HashAlert builds the HASH alert for a file whose hash is a known IOC.
func HashAlert(hostname, filePath, sha256 string) *models.Alert {
	return &models.Alert{
		Hostname:    hostname,
		Category:    models.CategoryHash,
		Severity:    models.SeverityCritical,
		Label:       models.LabelCritical,
		Description: fmt.Sprintf("Malicious hash detected (%s) in file: %s", sha256, filePath),
		FilePath:    &filePath,
		SHA256:      &sha256,
	}
}
