package domain

import "testing"

func TestResolveMonotonic(t *testing.T) {
	bools := []bool{false, true}
	for _, global := range bools {
		for _, account := range bools {
			for _, enabled := range bools {
				for _, query := range bools {
					for _, check := range bools {
						group := EnableFlags{Enabled: enabled, QueryAllowed: query, CheckAllowed: check}
						got := Resolve(ScopeFlags(global), ScopeFlags(account), group)

						want := global && account && enabled
						if got.Enabled != want {
							t.Errorf("Resolve(%v,%v,%+v).Enabled = %v, want %v", global, account, group, got.Enabled, want)
						}
						if got.Query != (want && query) {
							t.Errorf("Resolve(%v,%v,%+v).Query = %v", global, account, group, got.Query)
						}
						if got.Check != (want && check) {
							t.Errorf("Resolve(%v,%v,%+v).Check = %v", global, account, group, got.Check)
						}
						if !global && (got.Enabled || got.Query || got.Check) {
							t.Errorf("global disabled must disable everything, got %+v", got)
						}
					}
				}
			}
		}
	}
}
