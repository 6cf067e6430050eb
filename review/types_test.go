package review

import (
	"encoding/json"
	"strings"
	"testing"
)

func validEvent() CanonicalEvent {
	return CanonicalEvent{
		DeliveryID:   "d8f3c1a0-aaaa-bbbb-cccc-000000000001",
		RepoFullName: "acme/widgets",
		PRNumber:     42,
		HeadSHA:      "0123456789abcdef0123456789abcdef01234567",
		EventAction:  "opened",
		Trigger:      TriggerAuto,
	}
}

func TestCanonicalEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CanonicalEvent)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(e *CanonicalEvent) {},
		},
		{
			name:    "missing delivery id",
			mutate:  func(e *CanonicalEvent) { e.DeliveryID = "" },
			wantErr: "delivery_id",
		},
		{
			name:    "repo without slash",
			mutate:  func(e *CanonicalEvent) { e.RepoFullName = "acme" },
			wantErr: "owner/name",
		},
		{
			name:    "repo with empty owner",
			mutate:  func(e *CanonicalEvent) { e.RepoFullName = "/widgets" },
			wantErr: "owner/name",
		},
		{
			name:    "zero pr number",
			mutate:  func(e *CanonicalEvent) { e.PRNumber = 0 },
			wantErr: "pr_number",
		},
		{
			name:    "short sha",
			mutate:  func(e *CanonicalEvent) { e.HeadSHA = "abc123" },
			wantErr: "head_sha",
		},
		{
			name:    "uppercase sha",
			mutate:  func(e *CanonicalEvent) { e.HeadSHA = strings.ToUpper(e.HeadSHA) },
			wantErr: "head_sha",
		},
		{
			name:    "unknown trigger",
			mutate:  func(e *CanonicalEvent) { e.Trigger = "scheduled" },
			wantErr: "trigger",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestDedupKey(t *testing.T) {
	e := validEvent()
	want := "acme/widgets:42:0123456789abcdef0123456789abcdef01234567"
	if got := e.DedupKey(); got != want {
		t.Errorf("DedupKey() = %q, want %q", got, want)
	}

	// Changing only the sha must change the key.
	other := validEvent()
	other.HeadSHA = "fedcba9876543210fedcba9876543210fedcba98"
	if other.DedupKey() == e.DedupKey() {
		t.Error("DedupKey() identical for different head SHAs")
	}

	// Changing only the PR number must change the key.
	other = validEvent()
	other.PRNumber = 43
	if other.DedupKey() == e.DedupKey() {
		t.Error("DedupKey() identical for different PR numbers")
	}
}

func TestOwnerRepo(t *testing.T) {
	e := validEvent()
	if got := e.Owner(); got != "acme" {
		t.Errorf("Owner() = %q, want %q", got, "acme")
	}
	if got := e.Repo(); got != "widgets" {
		t.Errorf("Repo() = %q, want %q", got, "widgets")
	}
}

func TestCanonicalEventTolerantDecode(t *testing.T) {
	// Consumers must tolerate unknown fields from newer producers.
	raw := `{
		"delivery_id": "d1",
		"repo_full_name": "acme/widgets",
		"pr_number": 7,
		"head_sha": "0123456789abcdef0123456789abcdef01234567",
		"event_action": "opened",
		"trigger": "auto",
		"future_field": {"nested": true}
	}`
	var e CanonicalEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if e.PRNumber != 7 {
		t.Errorf("PRNumber = %d, want 7", e.PRNumber)
	}
}

func TestFindingSeverity(t *testing.T) {
	tests := []struct {
		priority int
		want     string
	}{
		{0, RiskHigh},
		{1, RiskMedium},
		{2, RiskLow},
	}
	for _, tt := range tests {
		f := Finding{Priority: tt.priority}
		if got := f.Severity(); got != tt.want {
			t.Errorf("Severity() for priority %d = %q, want %q", tt.priority, got, tt.want)
		}
	}
}

func TestFindingsByPriority(t *testing.T) {
	rev := Review{
		Findings: []Finding{
			{Priority: 1, File: "a.go"},
			{Priority: 0, File: "b.go"},
			{Priority: 1, File: "c.go"},
		},
	}
	groups := rev.FindingsByPriority()
	if len(groups[0]) != 1 || groups[0][0].File != "b.go" {
		t.Errorf("priority 0 group = %+v, want single b.go", groups[0])
	}
	if len(groups[1]) != 2 || groups[1][0].File != "a.go" || groups[1][1].File != "c.go" {
		t.Errorf("priority 1 group = %+v, want a.go then c.go", groups[1])
	}
	if len(groups[2]) != 0 {
		t.Errorf("priority 2 group = %+v, want empty", groups[2])
	}
}

func TestReviewMarshalNullableFields(t *testing.T) {
	rev := Review{
		Summary:     "No issues.",
		OverallRisk: RiskLow,
	}
	data, err := json.Marshal(&rev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(data)
	for _, want := range []string{
		`"truncation_note":null`,
		`"not_reviewed":null`,
		`"ticket_compliance":null`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("Marshal() = %s, want substring %s", s, want)
		}
	}
}

func TestFindingMarshalNullLines(t *testing.T) {
	f := Finding{Priority: 2, Type: FindingDocs, File: "README.md", Message: "Outdated."}
	data, err := json.Marshal(&f)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"start_line":null`) {
		t.Errorf("Marshal() = %s, want null start_line", s)
	}
	if !strings.Contains(s, `"suggested_patch":null`) {
		t.Errorf("Marshal() = %s, want null suggested_patch", s)
	}
}

func TestPRContextFilenames(t *testing.T) {
	ctx := PRContext{
		PullRequest: PullRequestInfo{
			ChangedFiles: []ChangedFileEntry{
				{Filename: "a.go"},
				{Filename: "b/c.go"},
			},
		},
	}
	names := ctx.Filenames()
	if !names["a.go"] || !names["b/c.go"] {
		t.Errorf("Filenames() = %v, want both entries", names)
	}
	if names["missing.go"] {
		t.Error("Filenames() contains an entry that was never added")
	}
}
