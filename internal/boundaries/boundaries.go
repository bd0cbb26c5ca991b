// Package boundaries segments a graded submission into per-student page
// ranges using student markers in page details, falling back to restarts of
// the question-number sequence.
package boundaries

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/formatting"
)

// ConfirmationThreshold is the confidence below which a boundary needs
// human confirmation.
const ConfirmationThreshold = 0.8

// Confidence levels by the evidence that opened a boundary.
const (
	ConfidenceAgree        = 1.0
	ConfidenceMarkerOnly   = 0.9
	ConfidenceContradicted = 0.7
	ConfidenceSequenceOnly = 0.6
	ConfidenceNoSignal     = 0.5
)

// Boundary is a contiguous page range attributed to one student.
type Boundary struct {
	StudentKey        string  `json:"student_key"`
	StartPage         int     `json:"start_page"`
	EndPage           int     `json:"end_page"`
	Confidence        float64 `json:"confidence"`
	NeedsConfirmation bool    `json:"needs_confirmation"`
}

// Result holds page-ordered, non-overlapping boundaries and the pages that
// could not be attributed.
type Result struct {
	Boundaries []Boundary `json:"boundaries"`
	Unassigned []int      `json:"unassigned"`
}

type markers struct {
	StudentKey      string `json:"student_key"`
	QuestionNumbers []int  `json:"question_numbers"`
}

func parseMarkers(detail string) markers {
	if detail == "" {
		return markers{}
	}
	m, err := formatting.Parse[markers](detail)
	if err != nil {
		return markers{}
	}
	return m
}

type open struct {
	key          string
	start, end   int
	marker       bool
	sequence     bool
	questions    bool
	contradicted bool
}

func (o *open) confidence() float64 {
	var c float64
	switch {
	case o.marker && o.sequence:
		c = ConfidenceAgree
	case o.marker && !o.questions:
		c = ConfidenceMarkerOnly
	case o.marker:
		c = ConfidenceContradicted
	case o.sequence:
		c = ConfidenceSequenceOnly
	default:
		c = ConfidenceNoSignal
	}
	if o.contradicted {
		c = min(c, ConfidenceContradicted)
	}
	if o.key == "" {
		c = min(c, ConfidenceSequenceOnly)
	}
	return c
}

// Detect partitions results into student boundaries. Failed pages join the
// open boundary only when the next scored page continues it; otherwise they
// are unassigned.
func Detect(results []grading.PageResult) Result {
	pages := slices.Clone(results)
	slices.SortFunc(pages, func(a, b grading.PageResult) int {
		return cmp.Compare(a.PageIndex, b.PageIndex)
	})

	out := Result{Boundaries: []Boundary{}, Unassigned: []int{}}
	var cur *open
	var gap []int
	maxQuestion := 0
	unknown := 0

	closeCurrent := func() {
		if cur == nil {
			return
		}
		key := cur.key
		if key == "" {
			unknown++
			key = fmt.Sprintf("unknown-%d", unknown)
		}
		conf := cur.confidence()
		out.Boundaries = append(out.Boundaries, Boundary{
			StudentKey:        key,
			StartPage:         cur.start,
			EndPage:           cur.end,
			Confidence:        conf,
			NeedsConfirmation: conf < ConfirmationThreshold,
		})
	}

	for _, p := range pages {
		if p.Status != grading.StatusOK {
			gap = append(gap, p.PageIndex)
			continue
		}

		m := parseMarkers(p.Detail)
		hasMarker := m.StudentKey != ""
		hasQuestions := len(m.QuestionNumbers) > 0
		first := 0
		if hasQuestions {
			first = m.QuestionNumbers[0]
		}
		restart := hasQuestions && maxQuestion > 0 &&
			(first < maxQuestion || (first == 1 && maxQuestion > 1))

		if cur == nil {
			out.Unassigned = append(out.Unassigned, gap...)
			gap = nil
			cur = &open{
				key:       m.StudentKey,
				start:     p.PageIndex,
				marker:    hasMarker,
				sequence:  hasQuestions && first == 1,
				questions: hasQuestions,
			}
		} else {
			markerChange := hasMarker && cur.key != "" && m.StudentKey != cur.key
			transition := markerChange || (restart && (!hasMarker || cur.key == ""))

			if transition {
				closeCurrent()
				out.Unassigned = append(out.Unassigned, gap...)
				gap = nil
				maxQuestion = 0
				cur = &open{
					key:       m.StudentKey,
					start:     p.PageIndex,
					marker:    markerChange,
					sequence:  restart,
					questions: hasQuestions,
				}
			} else {
				if restart && hasMarker {
					// same student by marker, but the sequence restarted
					cur.contradicted = true
				}
				if cur.key == "" && hasMarker {
					cur.key = m.StudentKey
				}
				gap = nil
			}
		}

		cur.end = p.PageIndex
		for _, q := range m.QuestionNumbers {
			maxQuestion = max(maxQuestion, q)
		}
	}

	closeCurrent()
	out.Unassigned = append(out.Unassigned, gap...)
	return out
}
