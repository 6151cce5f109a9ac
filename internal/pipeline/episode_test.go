package pipeline

import (
	"strings"
	"testing"
)

func TestLastSentence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"First point. Second point. And the closer here", "And the closer here"},
		{"First point. Second point!", "Second point"},
		{"一句话。第二句话！", "第二句话"},
		{"no terminator at all", "no terminator at all"},
		{"", ""},
	}
	for _, c := range cases {
		if got := lastSentence(c.in); got != c.want {
			t.Errorf("lastSentence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLastSentenceCapsLength(t *testing.T) {
	long := "Intro. " + strings.Repeat("x", 300)
	got := lastSentence(long)
	if n := len([]rune(got)); n != maxContextRunes {
		t.Errorf("capped sentence length = %d, want %d", n, maxContextRunes)
	}
}

func TestValidatePlan(t *testing.T) {
	want := map[int]bool{1: true, 2: true, 3: true}
	cases := []struct {
		groups [][]int
		ok     bool
	}{
		{[][]int{{3, 1}, {2}}, true},
		{[][]int{{1, 2}}, false},         // missing 3
		{[][]int{{1, 2, 3, 4}}, false},   // unknown ID
		{[][]int{{1, 2}, {2, 3}}, false}, // duplicate
		{[][]int{{1, 2, 3}, {}}, false},  // empty group
	}
	for i, c := range cases {
		problem := validatePlan(c.groups, want)
		if (problem == "") != c.ok {
			t.Errorf("case %d: validatePlan(%v) = %q, ok=%v", i, c.groups, problem, c.ok)
		}
	}
}

func TestChunkIDsFallbackGrouping(t *testing.T) {
	items := make([]BroadcastItem, 10)
	for i := range items {
		items[i] = BroadcastItem{ID: i + 1}
	}
	groups := chunkIDs(items, 4)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups for 10 items, got %d", len(groups))
	}
	if len(groups[0]) != 4 || len(groups[1]) != 4 || len(groups[2]) != 2 {
		t.Errorf("unexpected group sizes: %v", groups)
	}
	if groups[0][0] != 1 || groups[2][1] != 10 {
		t.Errorf("fallback must keep original order: %v", groups)
	}
}

func TestJSONExtraction(t *testing.T) {
	obj := jsonObject("Sure! Here you go:\n```json\n{\"title\": \"x\"}\n```\nHope that helps.")
	if obj != `{"title": "x"}` {
		t.Errorf("jsonObject = %q", obj)
	}
	arr := jsonArray("the plan is [[1,2],[3]] as requested")
	if arr != "[[1,2],[3]]" {
		t.Errorf("jsonArray = %q", arr)
	}
	if got := jsonObject("no braces here"); got != "no braces here" {
		t.Errorf("plain text should pass through, got %q", got)
	}
}
