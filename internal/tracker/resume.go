package tracker

import "github.com/at-ishikawa/playtrack/internal/schema"

// ResumePolicy decides where playback of a video restarts.
type ResumePolicy struct {
	// FloorSeconds is the position a watch must pass before it is resumed.
	FloorSeconds float64
	// MaxCompletion is the completion from which a video starts over.
	MaxCompletion float64
}

var DefaultResumePolicy = ResumePolicy{FloorSeconds: 30, MaxCompletion: 0.95}

// ResumeTime returns the stored position when it is past the floor and the
// video is not nearly finished, 0 otherwise.
func (r ResumePolicy) ResumeTime(p schema.Progress) float64 {
	if p.LastPositionSeconds > r.FloorSeconds && p.Completion < r.MaxCompletion {
		return p.LastPositionSeconds
	}
	return 0
}

// ResumeTime applies DefaultResumePolicy.
func ResumeTime(p schema.Progress) float64 {
	return DefaultResumePolicy.ResumeTime(p)
}
