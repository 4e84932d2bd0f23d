package payment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
)

// Plan is a paid subscription tier. Amount is in minor units.
type Plan struct {
	Type   string
	Amount int64
	Months int
}

// Plans lists the paid tiers by type.
var Plans = map[string]Plan{
	models.PlanMonthly:  {Type: models.PlanMonthly, Amount: 9900, Months: 1},
	models.PlanSixMonth: {Type: models.PlanSixMonth, Amount: 54000, Months: 6},
	models.PlanAnnual:   {Type: models.PlanAnnual, Amount: 96000, Months: 12},
}

func normalizePlan(plan string) string {
	return strings.ToLower(strings.TrimSpace(plan))
}

// PlanFor returns the paid plan with the given type.
func PlanFor(planType string) (Plan, bool) {
	p, ok := Plans[normalizePlan(planType)]
	return p, ok
}

// PeriodEnd is the end of a period of the plan starting at start.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	return start.AddDate(0, p.Months, 0)
}

// Reference is the checkout reference "{userId}-{planType}-{timestamp}"
// that the gateway echoes back in its callbacks.
type Reference struct {
	UserID    uint
	Plan      string
	Timestamp int64
}

var errReference = errors.New("malformed reference")

// NewReference builds the reference for a checkout started at t.
func NewReference(userID uint, plan string, t time.Time) Reference {
	return Reference{UserID: userID, Plan: normalizePlan(plan), Timestamp: t.Unix()}
}

func (r Reference) String() string {
	return fmt.Sprintf("%d-%s-%d", r.UserID, r.Plan, r.Timestamp)
}

// ParseReference splits a reference string. The plan is not checked here.
func ParseReference(s string) (Reference, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return Reference{}, fmt.Errorf("%w: %q", errReference, s)
	}
	userID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || userID == 0 {
		return Reference{}, fmt.Errorf("%w: user id %q", errReference, parts[0])
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: timestamp %q", errReference, parts[2])
	}
	return Reference{UserID: uint(userID), Plan: normalizePlan(parts[1]), Timestamp: ts}, nil
}
