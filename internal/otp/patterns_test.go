package otp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPatternSetConfiguredFirst(t *testing.T) {
	set := BuildPatternSet(`\bACME-(\d{6})\b`, nil)
	require.Len(t, set, 3)
	require.Equal(t, PatternConfigured, set[0].ID)
	require.Equal(t, PatternKeywordNum, set[1].ID)
	require.Equal(t, PatternKeywordAlnum, set[2].ID)
}

func TestBuildPatternSetFallsBackToDefault(t *testing.T) {
	for _, configured := range []string{"", `([unclosed`} {
		set := BuildPatternSet(configured, nil)
		require.Equal(t, PatternDefault, set[0].ID, "configured=%q", configured)
		require.True(t, set[0].Re.MatchString("code 482913"))
	}
}

func TestEnhancedPatternsMatchKeywordCodes(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Your OTP: 739201", "739201"},
		{"verification code is 8812", "8812"},
		{"PIN - 55321", "55321"},
		{"passcode\n994-xyz 12345678", "12345678"},
		{"Use code AB12CD to sign in", "AB12CD"},
	}
	for _, tc := range cases {
		set := BuildPatternSet("", nil)
		candidates := Extract(tc.text, set, 0, nil)
		require.NotEmpty(t, candidates, "text=%q", tc.text)
		found := false
		for _, c := range candidates {
			if c.Text == tc.want {
				found = true
			}
		}
		require.True(t, found, "want %q in %v for text %q", tc.want, candidates, tc.text)
	}
}
