package domain

// EnableFlags gates one scope (global, bot account or group).
// Global and account scopes only persist Enabled; their other flags are open.
type EnableFlags struct {
	Enabled      bool
	QueryAllowed bool
	CheckAllowed bool
}

// ScopeFlags returns the flags of a scope that only carries an enable switch.
func ScopeFlags(enabled bool) EnableFlags {
	return EnableFlags{Enabled: enabled, QueryAllowed: true, CheckAllowed: true}
}

// Access is the effective permission set of one group.
type Access struct {
	Enabled bool `json:"enabled"`
	Query   bool `json:"query"`
	Check   bool `json:"check"`
}

// Resolve ANDs the flags of every scope from the top down, so a disabled
// parent always disables its children.
func Resolve(global, account, group EnableFlags) Access {
	enabled := global.Enabled && account.Enabled && group.Enabled
	return Access{
		Enabled: enabled,
		Query:   enabled && global.QueryAllowed && account.QueryAllowed && group.QueryAllowed,
		Check:   enabled && global.CheckAllowed && account.CheckAllowed && group.CheckAllowed,
	}
}
