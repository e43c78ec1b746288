package models

type Service struct {
	ServiceID          string `json:"service_id" yaml:"service_id"`
	TenantID           string `json:"tenant_id" yaml:"tenant_id"`
	BranchID           string `json:"branch_id" yaml:"branch_id"`
	Name               string `json:"name" yaml:"name"`
	Code               string `json:"code" yaml:"code"`
	Category           string `json:"category,omitempty" yaml:"category"`
	AvgDurationMinutes int    `json:"avg_duration_minutes" yaml:"avg_duration_minutes"`
	Active             bool   `json:"active" yaml:"active"`
}

// Station is the service point an agent works from. An empty ServiceIDs
// list means the station serves every service of its branch.
type Station struct {
	StationID  string   `json:"station_id" yaml:"station_id"`
	TenantID   string   `json:"tenant_id" yaml:"tenant_id"`
	BranchID   string   `json:"branch_id" yaml:"branch_id"`
	Number     string   `json:"number" yaml:"number"`
	Type       string   `json:"type" yaml:"type"`
	Active     bool     `json:"active" yaml:"active"`
	ServiceIDs []string `json:"service_ids,omitempty" yaml:"service_ids"`
}

const (
	StationGeneral     = "general"
	StationPriority    = "priority"
	StationSpecialized = "specialized"
)

func (s Station) Serves(serviceID string) bool {
	if len(s.ServiceIDs) == 0 {
		return true
	}
	for _, id := range s.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}
