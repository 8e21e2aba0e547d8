// Package policy defines built-in agent policy profiles and tier-based
// heartbeat interval clamping.
package policy

import "github.com/alexgutscher26/ClawTrace-sub001/internal/models"

const (
	// ProfileDev is the developer profile with unrestricted data access.
	ProfileDev = "dev"
	// ProfileOps is the operations profile with system-level access.
	ProfileOps = "ops"
	// ProfileExec is the read-only executive profile.
	ProfileExec = "exec"

	// DefaultProfile is used when an agent has no policy profile assigned.
	DefaultProfile = ProfileDev
)

// Tier floors for the heartbeat interval, in seconds. Enterprise is unclamped.
const (
	FreeIntervalFloor = 300
	ProIntervalFloor  = 60
)

var builtins = map[string]models.PolicyProfile{
	ProfileDev: {
		Name:              ProfileDev,
		Label:             "DEVELOPER",
		Description:       "Full access to tools, environment variables, and advanced debugging skills.",
		Skills:            []string{"coding", "architecture", "debugging", "testing", "refactoring"},
		Tools:             []string{"terminal", "vscode", "git", "browser", "npm", "bun"},
		DataAccess:        "unrestricted",
		HeartbeatInterval: 300,
		Guardrails: models.Guardrails{
			BudgetLimitUSD:      100.0,
			ApprovedTools:       []string{"*"},
			MaxExecutionTimeSec: 3600,
		},
	},
	ProfileOps: {
		Name:              ProfileOps,
		Label:             "OPERATIONS",
		Description:       "System-level access for monitoring, scaling, and deployment management.",
		Skills:            []string{"monitoring", "scaling", "deployment", "security", "logging"},
		Tools:             []string{"bash", "docker", "k8s", "ssh", "top", "systemctl"},
		DataAccess:        "system-only",
		HeartbeatInterval: 60,
		Guardrails: models.Guardrails{
			BudgetLimitUSD:      50.0,
			ApprovedTools:       []string{"bash", "docker", "k8s", "ssh", "top", "systemctl"},
			MaxExecutionTimeSec: 1800,
		},
	},
	ProfileExec: {
		Name:              ProfileExec,
		Label:             "EXECUTIVE",
		Description:       "Read-only access focused on high-level analysis, costs, and reporting.",
		Skills:            []string{"analysis", "reporting", "budgeting", "forecasting", "strategy"},
		Tools:             []string{"analytics", "dashboard", "spreadsheet", "presentation"},
		DataAccess:        "read-only",
		HeartbeatInterval: 600,
		Guardrails: models.Guardrails{
			BudgetLimitUSD:      1.0,
			ApprovedTools:       []string{"analytics", "dashboard"},
			MaxExecutionTimeSec: 300,
		},
	},
}

// Resolve returns the profile for name, preferring a matching custom profile
// when one is provided. Unknown names fall back to the default profile. The
// returned value is a copy; callers may mutate it freely.
func Resolve(name string, custom *models.CustomPolicy) models.PolicyProfile {
	if custom != nil && custom.Active && custom.Profile.Name == name {
		p := custom.Profile
		if p.HeartbeatInterval <= 0 {
			p.HeartbeatInterval = builtins[DefaultProfile].HeartbeatInterval
		}
		return p
	}
	if p, ok := builtins[name]; ok {
		return p
	}
	return builtins[DefaultProfile]
}

// Builtins returns the names of all built-in profiles.
func Builtins() []string {
	return []string{ProfileDev, ProfileOps, ProfileExec}
}

// IsBuiltin reports whether name is a built-in profile.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// ClampInterval applies the tier floor to a heartbeat interval in seconds.
// This is the single place interval clamping happens; every policy resolution
// path goes through it.
func ClampInterval(tier models.Tier, intervalSeconds int) int {
	switch tier {
	case models.TierFree:
		if intervalSeconds < FreeIntervalFloor {
			return FreeIntervalFloor
		}
	case models.TierPro:
		if intervalSeconds < ProIntervalFloor {
			return ProIntervalFloor
		}
	}
	return intervalSeconds
}
