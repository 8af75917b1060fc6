package enforce

import (
	"testing"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/policy"
	"radgate.org/internal/usage"
)

func ptr(v int64) *int64 { return &v }

func TestEvaluatePrecedence(t *testing.T) {
	asOf := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	activated := asOf.Add(-10 * 24 * time.Hour)

	cases := []struct {
		name       string
		p          *policy.Profile
		t          usage.Totals
		wantReason account.Reason
		wantBreach bool
	}{
		{
			name:       "nil profile never breaches",
			p:          nil,
			t:          usage.Totals{Lifetime: 1 << 50},
			wantBreach: false,
		},
		{
			name:       "under all limits",
			p:          &policy.Profile{Mode: policy.QuotaTotal, QuotaBytes: 10 << 30, DailyLimit: ptr(5 << 30)},
			t:          usage.Totals{Today: 1 << 30, Lifetime: 2 << 30},
			wantBreach: false,
		},
		{
			name:       "daily limit hit exactly",
			p:          &policy.Profile{Mode: policy.QuotaUnlimited, DailyLimit: ptr(5 << 30)},
			t:          usage.Totals{Today: 5 << 30},
			wantReason: account.ReasonDailyLimit,
			wantBreach: true,
		},
		{
			// Precedence determinism: over both the daily limit and the
			// lifetime quota, the reason is always daily-limit.
			name:       "daily wins over lifetime quota",
			p:          &policy.Profile{Mode: policy.QuotaTotal, QuotaBytes: 10 << 30, DailyLimit: ptr(5 << 30)},
			t:          usage.Totals{Today: 6 << 30, Lifetime: 20 << 30},
			wantReason: account.ReasonDailyLimit,
			wantBreach: true,
		},
		{
			name:       "weekly before monthly",
			p:          &policy.Profile{Mode: policy.QuotaUnlimited, WeeklyLimit: ptr(10 << 30), MonthlyLimit: ptr(20 << 30)},
			t:          usage.Totals{Week: 11 << 30, Month: 30 << 30},
			wantReason: account.ReasonWeeklyLimit,
			wantBreach: true,
		},
		{
			name:       "monthly limit",
			p:          &policy.Profile{Mode: policy.QuotaUnlimited, MonthlyLimit: ptr(20 << 30)},
			t:          usage.Totals{Month: 20 << 30},
			wantReason: account.ReasonMonthlyLimit,
			wantBreach: true,
		},
		{
			name:       "lifetime quota last",
			p:          &policy.Profile{Mode: policy.QuotaTotal, QuotaBytes: 10 << 30},
			t:          usage.Totals{Lifetime: 10 << 30},
			wantReason: account.ReasonQuotaExceeded,
			wantBreach: true,
		},
		{
			name:       "unlimited mode ignores lifetime",
			p:          &policy.Profile{Mode: policy.QuotaUnlimited},
			t:          usage.Totals{Lifetime: 1 << 50},
			wantBreach: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, breached := Evaluate(tc.p, tc.t, activated, asOf)
			if breached != tc.wantBreach {
				t.Fatalf("breached = %v, want %v (%+v)", breached, tc.wantBreach, v)
			}
			if breached && v.Reason != tc.wantReason {
				t.Fatalf("reason = %s, want %s", v.Reason, tc.wantReason)
			}
		})
	}
}

func TestEvaluateValidityBeatsEverything(t *testing.T) {
	asOf := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	days := 30
	p := &policy.Profile{
		Mode:         policy.QuotaTotal,
		QuotaBytes:   10 << 30,
		DailyLimit:   ptr(5 << 30),
		ValidityDays: &days,
	}
	// 31 days old and over every byte limit.
	activated := asOf.Add(-31 * 24 * time.Hour)
	totals := usage.Totals{Today: 6 << 30, Lifetime: 20 << 30}

	v, breached := Evaluate(p, totals, activated, asOf)
	if !breached || v.Reason != account.ReasonValidityExpired {
		t.Fatalf("expected validity-expired, got %+v breached=%v", v, breached)
	}

	// Inside the validity window age alone does not breach.
	fresh := asOf.Add(-29 * 24 * time.Hour)
	v, breached = Evaluate(p, usage.Totals{}, fresh, asOf)
	if breached {
		t.Fatalf("unexpected breach: %+v", v)
	}
}

func TestVerdictSnapshotsUsedAndLimit(t *testing.T) {
	asOf := time.Now().UTC()
	p := &policy.Profile{Mode: policy.QuotaUnlimited, DailyLimit: ptr(5 << 30)}
	totals := usage.Totals{Today: 6 << 30}

	v, breached := Evaluate(p, totals, asOf.Add(-time.Hour), asOf)
	if !breached {
		t.Fatal("expected breach")
	}
	if v.Used != 6<<30 || v.Limit != 5<<30 {
		t.Fatalf("snapshot wrong: used=%d limit=%d", v.Used, v.Limit)
	}
	if v.Detail == "" {
		t.Fatal("detail must carry the human-readable comparison")
	}
}
