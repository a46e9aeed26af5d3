package domain

import "strings"

// Identity is the authenticated requester handed to the ingestion endpoints.
type Identity struct {
	Email  string
	Plan   string
	Locale string
}

// PlanPolicy gates job kinds behind paid plans. An empty policy allows everything.
type PlanPolicy struct {
	GatedKinds map[JobKind]bool
	PaidPlans  map[string]bool
}

// NewPlanPolicy builds a policy from comma separated kind and plan lists.
func NewPlanPolicy(gatedKinds, paidPlans []string) PlanPolicy {
	p := PlanPolicy{GatedKinds: map[JobKind]bool{}, PaidPlans: map[string]bool{}}
	for _, raw := range gatedKinds {
		if kind, ok := ParseJobKind(raw); ok {
			p.GatedKinds[kind] = true
		}
	}
	for _, plan := range paidPlans {
		plan = strings.ToLower(strings.TrimSpace(plan))
		if plan != "" {
			p.PaidPlans[plan] = true
		}
	}
	return p
}

// Allows reports whether the plan may submit the job kind.
func (p PlanPolicy) Allows(plan string, kind JobKind) bool {
	if !p.GatedKinds[kind] {
		return true
	}
	return p.PaidPlans[strings.ToLower(strings.TrimSpace(plan))]
}
