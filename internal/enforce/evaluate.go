package enforce

import (
	"fmt"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/policy"
	"radgate.org/internal/usage"
)

// Verdict is a single breach decision with the used/limit snapshot that goes
// onto the DisconnectionRecord.
type Verdict struct {
	Reason account.Reason
	Detail string
	Used   int64
	Limit  int64
}

// Evaluate checks an account's consumption against its profile in the fixed
// precedence order: validity, daily, weekly, monthly, lifetime quota. The
// first match wins; a single pass never reports two reasons. Returns false
// when nothing is breached or the profile is nil.
func Evaluate(p *policy.Profile, t usage.Totals, activatedAt, asOf time.Time) (Verdict, bool) {
	if p == nil {
		return Verdict{}, false
	}

	if p.ValidityDays != nil {
		validity := time.Duration(*p.ValidityDays) * 24 * time.Hour
		if age := asOf.Sub(activatedAt); age > validity {
			return Verdict{
				Reason: account.ReasonValidityExpired,
				Detail: fmt.Sprintf("active %s exceeds validity of %d days", age.Round(time.Minute), *p.ValidityDays),
			}, true
		}
	}
	if p.DailyLimit != nil && t.Today >= *p.DailyLimit {
		return Verdict{
			Reason: account.ReasonDailyLimit,
			Detail: fmt.Sprintf("used %s today, daily limit %s", fmtBytes(t.Today), fmtBytes(*p.DailyLimit)),
			Used:   t.Today,
			Limit:  *p.DailyLimit,
		}, true
	}
	if p.WeeklyLimit != nil && t.Week >= *p.WeeklyLimit {
		return Verdict{
			Reason: account.ReasonWeeklyLimit,
			Detail: fmt.Sprintf("used %s this week, weekly limit %s", fmtBytes(t.Week), fmtBytes(*p.WeeklyLimit)),
			Used:   t.Week,
			Limit:  *p.WeeklyLimit,
		}, true
	}
	if p.MonthlyLimit != nil && t.Month >= *p.MonthlyLimit {
		return Verdict{
			Reason: account.ReasonMonthlyLimit,
			Detail: fmt.Sprintf("used %s this month, monthly limit %s", fmtBytes(t.Month), fmtBytes(*p.MonthlyLimit)),
			Used:   t.Month,
			Limit:  *p.MonthlyLimit,
		}, true
	}
	if p.Mode != policy.QuotaUnlimited && p.QuotaBytes > 0 && t.Lifetime >= p.QuotaBytes {
		return Verdict{
			Reason: account.ReasonQuotaExceeded,
			Detail: fmt.Sprintf("used %s in total, quota %s", fmtBytes(t.Lifetime), fmtBytes(p.QuotaBytes)),
			Used:   t.Lifetime,
			Limit:  p.QuotaBytes,
		}, true
	}
	return Verdict{}, false
}

func fmtBytes(n int64) string {
	const gib = 1 << 30
	const mib = 1 << 20
	switch {
	case n >= gib:
		return fmt.Sprintf("%.2f GiB", float64(n)/gib)
	case n >= mib:
		return fmt.Sprintf("%.2f MiB", float64(n)/mib)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
