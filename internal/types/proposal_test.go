package types

import "testing"

func f(v float64) *float64 { return &v }

func TestCombinedScore(t *testing.T) {
	tests := []struct {
		name     string
		snapshot AIAnalysisSnapshot
		want     float64
		wantOK   bool
	}{
		{
			name:     "empty snapshot",
			snapshot: AIAnalysisSnapshot{},
		},
		{
			name: "all dimensions",
			snapshot: AIAnalysisSnapshot{
				Quality: f(1), Relevance: f(0.5), Feasibility: f(0.5),
				Sustainability: f(0.5), Innovation: f(0),
			},
			want:   0.5,
			wantOK: true,
		},
		{
			name:     "partial dimensions average only what is present",
			snapshot: AIAnalysisSnapshot{Quality: f(0.8), Relevance: f(0.4)},
			want:     0.6,
			wantOK:   true,
		},
		{
			name:     "single dimension",
			snapshot: AIAnalysisSnapshot{Innovation: f(0.3)},
			want:     0.3,
			wantOK:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.snapshot.CombinedScore()
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got != tc.want {
				t.Errorf("score = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMergeStatePredicates(t *testing.T) {
	active := &Proposal{MergeState: MergeStateActive}
	if active.IsMergeSource() || active.IsMergeResult() {
		t.Error("active proposal misclassified")
	}

	away := &Proposal{MergeState: MergeStateMergedAway}
	if !away.IsMergeSource() {
		t.Error("merged-away proposal not detected as merge source")
	}

	result := &Proposal{MergeState: MergeStateMergeResult}
	if !result.IsMergeResult() || result.IsMergeSource() {
		t.Error("merge result misclassified")
	}
}
