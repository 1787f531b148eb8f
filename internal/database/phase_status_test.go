package database

import "testing"

func ph(name string, ord int) Phase   { return Phase{ID: int64(ord) + 1, Name: name, Ord: ord} }
func st(name string, ord int) Status  { return Status{ID: int64(ord) + 1, Name: name, Ord: ord} }

var (
	phZipName = ph(PhaseZipName, 1)
	phUnzip   = ph(PhaseUnzip, 3)
	phXSD     = ph(PhaseXSD, 5)
	phUpload  = ph(PhaseUpload, 6)

	stPending = st(StatusPending, 0)
	stRunning = st(StatusRunning, 1)
	stDone    = st(StatusDone, 2)
	stFailed  = st(StatusFailed, 4)
)

func TestEscalateAdvancesOnHigherPhase(t *testing.T) {
	old := PhaseStatus{Phase: phZipName, Status: stDone}
	proposed := PhaseStatus{Phase: phUnzip, Status: stRunning}

	result, changed := Escalate(old, proposed)
	if !changed {
		t.Fatalf("expected change advancing from zip_name to unzip")
	}
	if result.Phase.Name != PhaseUnzip || result.Status.Name != StatusRunning {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestEscalateNeverRegressesPhase(t *testing.T) {
	old := PhaseStatus{Phase: phUnzip, Status: stDone}
	proposed := PhaseStatus{Phase: phZipName, Status: stRunning}

	result, changed := Escalate(old, proposed)
	if changed {
		t.Fatalf("must not regress from unzip back to zip_name, got %+v", result)
	}
}

func TestEscalateAdvancesStatusWithinSamePhase(t *testing.T) {
	old := PhaseStatus{Phase: phXSD, Status: stRunning}
	proposed := PhaseStatus{Phase: phXSD, Status: stDone}

	result, changed := Escalate(old, proposed)
	if !changed || result.Status.Name != StatusDone {
		t.Fatalf("expected status to advance to done, got %+v changed=%v", result, changed)
	}
}

func TestEscalateIgnoresLowerOrEqualStatusSamePhase(t *testing.T) {
	old := PhaseStatus{Phase: phXSD, Status: stDone}
	proposed := PhaseStatus{Phase: phXSD, Status: stRunning}

	_, changed := Escalate(old, proposed)
	if changed {
		t.Fatalf("must not regress status within the same phase")
	}
}

func TestEscalateFirstFailureRecordsBoth(t *testing.T) {
	old := PhaseStatus{Phase: phUnzip, Status: stRunning}
	proposed := PhaseStatus{Phase: phXSD, Status: stFailed}

	result, changed := Escalate(old, proposed)
	if !changed || result.Phase.Name != PhaseXSD || result.Status.Name != StatusFailed {
		t.Fatalf("expected first failure to record (xsd, failed), got %+v changed=%v", result, changed)
	}
}

func TestEscalateEarliestFailureWins(t *testing.T) {
	old := PhaseStatus{Phase: phXSD, Status: stFailed}
	proposed := PhaseStatus{Phase: phUnzip, Status: stFailed}

	result, changed := Escalate(old, proposed)
	if !changed || result.Phase.Name != PhaseUnzip || result.Status.Name != StatusFailed {
		t.Fatalf("expected earlier failure (unzip) to win, got %+v changed=%v", result, changed)
	}
}

func TestEscalateIgnoresLaterFailureAfterEarlierOneRecorded(t *testing.T) {
	old := PhaseStatus{Phase: phUnzip, Status: stFailed}
	proposed := PhaseStatus{Phase: phUpload, Status: stFailed}

	_, changed := Escalate(old, proposed)
	if changed {
		t.Fatalf("a later failure must never displace an earlier recorded one")
	}
}

func TestEscalateIgnoresSuccessAfterFailure(t *testing.T) {
	old := PhaseStatus{Phase: phXSD, Status: stFailed}
	proposed := PhaseStatus{Phase: phUpload, Status: stRunning}

	_, changed := Escalate(old, proposed)
	if changed {
		t.Fatalf("a successful report must never clear a recorded failure")
	}
}

func TestEscalateIsIdempotent(t *testing.T) {
	cases := []struct {
		name     string
		old, new PhaseStatus
	}{
		{"advance", PhaseStatus{phZipName, stDone}, PhaseStatus{phUnzip, stRunning}},
		{"same-phase-status-advance", PhaseStatus{phXSD, stRunning}, PhaseStatus{phXSD, stDone}},
		{"first-failure", PhaseStatus{phUnzip, stRunning}, PhaseStatus{phXSD, stFailed}},
		{"earlier-failure-wins", PhaseStatus{phXSD, stFailed}, PhaseStatus{phUnzip, stFailed}},
		{"regress-ignored", PhaseStatus{phUnzip, stDone}, PhaseStatus{phZipName, stRunning}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once, _ := Escalate(tc.old, tc.new)
			twice, _ := Escalate(once, tc.new)
			if once != twice {
				t.Fatalf("escalation not idempotent: once=%+v twice=%+v", once, twice)
			}
		})
	}
}
