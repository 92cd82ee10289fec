package internaldefs

import (
	"github.com/MrEthical07/mindgate"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   mindgate.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   mindgate.MetricID
	Name string
	Help string
}

// Gauge is a caller-supplied point-in-time value exported next to the
// engine counters, such as the number of registered devices.
type Gauge struct {
	Name  string
	Help  string
	Value func() uint64
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "mindgate_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// CounterDefs lists every exported engine counter in render order.
var CounterDefs = []CounterDef{
	{ID: mindgate.MetricSignInSuccess, Name: "mindgate_sign_in_success_total", Help: "Successful password sign-ins."},
	{ID: mindgate.MetricSignInFailure, Name: "mindgate_sign_in_failure_total", Help: "Rejected password sign-ins."},
	{ID: mindgate.MetricSignInRateLimited, Name: "mindgate_sign_in_rate_limited_total", Help: "Sign-ins refused by the attempt limiter."},
	{ID: mindgate.MetricSignUpSuccess, Name: "mindgate_sign_up_success_total", Help: "Accounts created."},
	{ID: mindgate.MetricSignUpDuplicate, Name: "mindgate_sign_up_duplicate_total", Help: "Sign-ups rejected because the email is taken."},
	{ID: mindgate.MetricSignUpRateLimited, Name: "mindgate_sign_up_rate_limited_total", Help: "Sign-ups refused by the attempt limiter."},
	{ID: mindgate.MetricRefreshSuccess, Name: "mindgate_refresh_success_total", Help: "Successful session refreshes."},
	{ID: mindgate.MetricRefreshFailure, Name: "mindgate_refresh_failure_total", Help: "Failed session refreshes."},
	{ID: mindgate.MetricRefreshReuseDetected, Name: "mindgate_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: mindgate.MetricRefreshRateLimited, Name: "mindgate_refresh_rate_limited_total", Help: "Refreshes refused by the attempt limiter."},
	{ID: mindgate.MetricSessionCreated, Name: "mindgate_session_created_total", Help: "Sessions created."},
	{ID: mindgate.MetricSessionInvalidated, Name: "mindgate_session_invalidated_total", Help: "Sessions invalidated."},
	{ID: mindgate.MetricSignOut, Name: "mindgate_sign_out_total", Help: "Sign-out operations."},
	{ID: mindgate.MetricVerificationRequest, Name: "mindgate_verification_request_total", Help: "Verification emails issued."},
	{ID: mindgate.MetricVerificationSuccess, Name: "mindgate_verification_success_total", Help: "Verification codes exchanged for a session."},
	{ID: mindgate.MetricVerificationFailure, Name: "mindgate_verification_failure_total", Help: "Rejected verification codes."},
	{ID: mindgate.MetricRateLimitHit, Name: "mindgate_rate_limit_hit_total", Help: "Limiter checks that denied a request."},
}

// HistogramDefs lists every exported engine histogram.
var HistogramDefs = []HistogramDef{
	{ID: mindgate.MetricValidateLatency, Name: "mindgate_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the upper bounds of the engine latency buckets.
var HistogramBounds = [8]string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for instrument names.
var HistogramBoundSuffix = [8]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling when raw is
// short or nil.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
