package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/skillsenselab/flowkit/component"
	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/resource"
)

// ResourceInfo holds tracked pool state for one resource at startup.
type ResourceInfo struct {
	Name  string
	Stats resource.PoolStats
}

// Summary tracks and displays the runtime bootstrap process.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	resources       []ResourceInfo
	nodeTypes       []string
}

// NewSummary creates a new bootstrap summary tracker.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{
		serviceName: serviceName,
		version:     version,
	}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackResource adds a pooled resource's startup state to the summary.
func (s *Summary) TrackResource(name string, stats resource.PoolStats) {
	s.resources = append(s.resources, ResourceInfo{Name: name, Stats: stats})
	sort.Slice(s.resources, func(i, j int) bool {
		return s.resources[i].Name < s.resources[j].Name
	})
}

// TrackNodeType records a registered node type.
func (s *Summary) TrackNodeType(nodeType string) {
	s.nodeTypes = append(s.nodeTypes, nodeType)
}

// DisplaySummary prints the bootstrap summary including live health from
// the component registry.
func (s *Summary) DisplaySummary(registry *component.Registry, log *logger.Logger) {
	fmt.Printf("\n")
	fmt.Printf("🚀 %s v%s started in %.2fs\n\n",
		s.serviceName, s.version, s.startupDuration.Seconds())

	if len(s.resources) > 0 {
		fmt.Printf("📊 Resources\n")
		for i, r := range s.resources {
			prefix := "├──"
			if i == len(s.resources)-1 {
				prefix = "└──"
			}
			fmt.Printf("   %s 🔌 %s: %d idle / %d total\n",
				prefix, r.Name, r.Stats.Idle, r.Stats.Total)
		}
		fmt.Printf("\n")
	}

	if len(s.nodeTypes) > 0 {
		fmt.Printf("⚙️  Node Types (%d)\n", len(s.nodeTypes))
		for i, nt := range s.nodeTypes {
			prefix := "├──"
			if i == len(s.nodeTypes)-1 {
				prefix = "└──"
			}
			fmt.Printf("   %s %s\n", prefix, nt)
		}
		fmt.Printf("\n")
	}

	if registry != nil {
		healthResults := registry.HealthAll(context.Background())
		if len(healthResults) > 0 {
			fmt.Printf("🏥 Health Check\n")
			healthy := 0
			for i, h := range healthResults {
				prefix := "├──"
				if i == len(healthResults)-1 {
					prefix = "└──"
				}
				icon := healthStatusIcon(h.Status)
				msg := ""
				if h.Message != "" {
					msg = fmt.Sprintf(" — %s", h.Message)
				}
				fmt.Printf("   %s %s %s: %s%s\n", prefix, icon, h.Name, strings.ToLower(string(h.Status)), msg)
				if h.Status == component.StatusHealthy {
					healthy++
				}
			}
			total := len(healthResults)
			if healthy == total {
				fmt.Printf("\n✅ All components healthy (%d/%d)\n", healthy, total)
			} else {
				fmt.Printf("\n⚠️  Some components have issues (%d/%d healthy)\n", healthy, total)
			}
		}
	}

	fmt.Printf("\n")
}

func healthStatusIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✅"
	case component.StatusDegraded:
		return "⚠️"
	case component.StatusUnhealthy:
		return "❌"
	default:
		return "❓"
	}
}
