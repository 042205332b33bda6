package tags

import "testing"

func TestCheckReplayVerdicts(t *testing.T) {
	testCases := []struct {
		name     string
		lastSeen *TapCounter
		observed *TapCounter
		want     ReplayVerdict
	}{
		{name: "no-counter-first-scan", lastSeen: nil, observed: nil, want: ReplayNoCounter},
		{name: "no-counter-after-counters", lastSeen: counterOf(9), observed: nil, want: ReplayNoCounter},
		{name: "first-counter", lastSeen: nil, observed: counterOf(0), want: ReplayFresh},
		{name: "advancing-counter", lastSeen: counterOf(4), observed: counterOf(5), want: ReplayFresh},
		{name: "large-jump", lastSeen: counterOf(4), observed: counterOf(4000), want: ReplayFresh},
		{name: "equal-counter", lastSeen: counterOf(5), observed: counterOf(5), want: ReplayStale},
		{name: "regressing-counter", lastSeen: counterOf(5), observed: counterOf(3), want: ReplayStale},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := CheckReplay(testCase.lastSeen, testCase.observed)
			if got != testCase.want {
				t.Fatalf("expected %s, got %s", testCase.want, got)
			}
		})
	}
}

func TestReplayVerdictAllows(t *testing.T) {
	if !ReplayFresh.Allows() {
		t.Fatalf("fresh verdict must allow state advancement")
	}
	if !ReplayNoCounter.Allows() {
		t.Fatalf("counter-less taps are legitimate and must allow state advancement")
	}
	if ReplayStale.Allows() {
		t.Fatalf("stale verdict must block state advancement")
	}
}
