package behavior

// Severity mirrors spec §4.7's AnomalyEvent.severity enum.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AnomalyEvent mirrors spec §4.7 exactly.
type AnomalyEvent struct {
	RuleID         string
	Severity       Severity
	BlacklistReason string
	Description    string
}

func ruleSuspiciouslyFast(s Stats) *AnomalyEvent {
	if s.SuspiciouslyFastCount >= 3 && s.TasksTotal > 0 && s.DurationMeanMs < 1000 {
		return &AnomalyEvent{RuleID: "BHV001", Severity: SeverityCritical, BlacklistReason: "suspiciously_fast_completion",
			Description: "3 or more tasks completed in under 500ms with a sub-1000ms average duration"}
	}
	return nil
}

func ruleMassEmpty(s Stats) *AnomalyEvent {
	if s.TasksTotal == 0 {
		return nil
	}
	ratio := float64(s.TasksEmpty) / float64(s.TasksTotal)
	if s.TasksEmpty >= 5 && ratio > 0.6 {
		return &AnomalyEvent{RuleID: "BHV002", Severity: SeverityHigh, BlacklistReason: "mass_empty_results",
			Description: "5 or more empty results exceeding 60% of total tasks"}
	}
	return nil
}

func ruleDuplicateForgery(s Stats) *AnomalyEvent {
	if s.TasksIdentical >= 3 {
		return &AnomalyEvent{RuleID: "BHV003", Severity: SeverityCritical, BlacklistReason: "forged_results",
			Description: "3 or more consecutive identical output hashes"}
	}
	return nil
}

func ruleSuccessCollapse(s Stats) *AnomalyEvent {
	if s.TasksTotal < 10 {
		return nil
	}
	rate := float64(s.TasksSuccess) / float64(s.TasksTotal)
	if rate < 0.15 {
		return &AnomalyEvent{RuleID: "BHV004", Severity: SeverityHigh, BlacklistReason: "success_rate_collapse",
			Description: "10 or more tasks with a success rate under 15%"}
	}
	return nil
}

func ruleProtocolAbuse(s Stats) *AnomalyEvent {
	if s.ProtocolViolations >= 5 {
		return &AnomalyEvent{RuleID: "BHV005", Severity: SeverityCritical, BlacklistReason: "protocol_abuse",
			Description: "5 or more signature failures and replays"}
	}
	return nil
}

func ruleHeartbeatManipulation(s Stats) *AnomalyEvent {
	if s.MaxHeartbeatGapMs > 5*60*1000 && s.ConcurrentClaims > 0 {
		return &AnomalyEvent{RuleID: "BHV006", Severity: SeverityHigh, BlacklistReason: "heartbeat_manipulation",
			Description: "heartbeat gap exceeding 5 minutes while still claiming work"}
	}
	return nil
}

func ruleTaskHoarding(s Stats, limit int) *AnomalyEvent {
	if s.ConcurrentClaims > 2*limit || s.Requeues >= 8 {
		return &AnomalyEvent{RuleID: "BHV007", Severity: SeverityHigh, BlacklistReason: "task_hoarding",
			Description: "concurrent claims exceeding twice the claim limit, or 8 or more requeues"}
	}
	return nil
}

func ruleRegistrationStorm(s Stats) *AnomalyEvent {
	if s.Registrations >= 10 {
		return &AnomalyEvent{RuleID: "BHV008", Severity: SeverityHigh, BlacklistReason: "registration_storm",
			Description: "10 or more registrations within the rolling window"}
	}
	return nil
}

func ruleRobotPrecision(s Stats) *AnomalyEvent {
	if s.TasksTotal >= 10 && s.DurationStdDevMs < 50 {
		return &AnomalyEvent{RuleID: "BHV009", Severity: SeverityWarn, BlacklistReason: "robot_precision_timing",
			Description: "duration standard deviation under 50ms over 10 or more tasks"}
	}
	return nil
}

func ruleTinyOutputs(s Stats, avgOutputLength float64) *AnomalyEvent {
	if s.TasksSuccess >= 5 && avgOutputLength < 10 {
		return &AnomalyEvent{RuleID: "BHV010", Severity: SeverityWarn, BlacklistReason: "tiny_outputs",
			Description: "average output length under 10 characters over 5 or more successful tasks"}
	}
	return nil
}

// Evaluate runs the two parameterized rules (BHV007, BHV010) alongside
// the eight stats-only rules and returns every rule that fired. claimLimit
// and avgOutputLength come from the scheduler and result-recording paths
// respectively, since Stats alone does not carry them.
func Evaluate(s Stats, claimLimit int, avgOutputLength float64) []AnomalyEvent {
	var fired []AnomalyEvent
	checks := []*AnomalyEvent{
		ruleSuspiciouslyFast(s),
		ruleMassEmpty(s),
		ruleDuplicateForgery(s),
		ruleSuccessCollapse(s),
		ruleProtocolAbuse(s),
		ruleHeartbeatManipulation(s),
		ruleTaskHoarding(s, claimLimit),
		ruleRegistrationStorm(s),
		ruleRobotPrecision(s),
		ruleTinyOutputs(s, avgOutputLength),
	}
	for _, c := range checks {
		if c != nil {
			fired = append(fired, *c)
		}
	}
	return fired
}
