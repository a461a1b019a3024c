package simulate

import (
	"fmt"

	"github.com/okian/sitwell/internal/domain/model"
)

// Verify compares a session summary with what the script should have produced
// and returns every mismatch found.
func Verify(s Script, fps float64, sum model.Summary) []string { //nolint:gocritic // hugeParam
	var problems []string
	spans := s.Spans(fps)
	total := spans[len(spans)-1].Last

	if sum.TotalFrames != total {
		problems = append(problems, fmt.Sprintf("total frames: want %d, got %d", total, sum.TotalFrames))
	}
	if want := s.Rejected(fps); sum.RejectedFrames != want {
		problems = append(problems, fmt.Sprintf("rejected frames: want %d, got %d", want, sum.RejectedFrames))
	}
	if sum.Baseline == nil || sum.Baseline.ShoulderPosition == nil {
		problems = append(problems, "baseline: missing shoulder position")
	}

	for _, sp := range spans {
		for _, ch := range sp.Expect {
			if !overlaps(sum.Timeline[ch], sp.First, sp.Last, sum.TotalFrames) {
				problems = append(problems, fmt.Sprintf("phase %s: no %s alert in frames %d-%d", sp.Name, ch, sp.First, sp.Last))
			}
		}
	}
	for ch, ivs := range sum.Timeline {
		for _, iv := range ivs {
			if iv.Open {
				problems = append(problems, fmt.Sprintf("%s: interval starting at %d left open", ch, iv.Start))
			}
		}
	}
	return problems
}

func overlaps(ivs []model.Interval, first, last, upto int) bool {
	for _, iv := range ivs {
		end := iv.End
		if iv.Open {
			end = upto
		}
		if iv.Start <= last && end >= first {
			return true
		}
	}
	return false
}
