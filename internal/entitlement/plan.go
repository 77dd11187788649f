package entitlement

import (
	"fmt"
	"time"
)

const Day = 24 * time.Hour

type PlanID string

const (
	PlanMonthly PlanID = "monthly"
	PlanYearly  PlanID = "yearly"
)

type Plan struct {
	ID   PlanID
	Days int
}

// Duration is the validity a single grant of the plan adds.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.Days) * Day
}

var plans = map[PlanID]Plan{
	PlanMonthly: {ID: PlanMonthly, Days: 30},
	PlanYearly:  {ID: PlanYearly, Days: 365},
}

// LookupPlan resolves a plan id. Unknown ids fail with a ValidationError.
func LookupPlan(id string) (Plan, error) {
	p, ok := plans[PlanID(id)]
	if !ok {
		return Plan{}, &ValidationError{Field: "plan", Message: fmt.Sprintf("unknown plan %q", id)}
	}
	return p, nil
}
