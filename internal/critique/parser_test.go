package critique

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantScore  int
		wantAdvice string
	}{
		{
			name:       "both tags present",
			text:       "<advice>Add more detail</advice>\n<score>5</score>",
			wantScore:  5,
			wantAdvice: "Add more detail",
		},
		{
			name:       "tags in reverse order",
			text:       "<score>9</score><advice>No changes needed</advice>",
			wantScore:  9,
			wantAdvice: "No changes needed",
		},
		{
			name:      "whitespace around score",
			text:      "<score>\n  8 \n</score>",
			wantScore: 8,
		},
		{
			name:       "multiline advice",
			text:       "<advice>First point.\nSecond point.\n</advice><score>6</score>",
			wantScore:  6,
			wantAdvice: "First point.\nSecond point.",
		},
		{
			name:      "missing advice",
			text:      "Looks fine. <score>10</score>",
			wantScore: 10,
		},
		{
			name:       "missing score defaults to zero",
			text:       "<advice>Needs work</advice>",
			wantScore:  0,
			wantAdvice: "Needs work",
		},
		{
			name:      "no structure at all",
			text:      "I think the draft is acceptable overall.",
			wantScore: 0,
		},
		{
			name:      "non-numeric score ignored",
			text:      "<score>ten</score>",
			wantScore: 0,
		},
		{
			name:      "empty input",
			text:      "",
			wantScore: 0,
		},
		{
			name:       "surrounding prose",
			text:       "Verification complete.\n\n<advice>Cite the 2024 report directly.</advice>\n\n<score>7</score>\n\nDone.",
			wantScore:  7,
			wantAdvice: "Cite the 2024 report directly.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Parse(tt.text)
			assert.Equal(t, tt.wantScore, v.Score)
			assert.Equal(t, tt.wantAdvice, v.Advice)
		})
	}
}
