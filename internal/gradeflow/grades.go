package gradeflow

import (
	"github.com/montanaflynn/stats"

	"ucaes_registrar/internal/shared"
)

// UCAES grading scale. Scores are percentages in [0,100].
var gradeBands = []struct {
	Min    float64
	Letter string
}{
	{80, "A"},
	{75, "B+"},
	{70, "B"},
	{65, "C+"},
	{60, "C"},
	{55, "D+"},
	{50, "D"},
	{45, "E"},
	{0, "F"},
}

var gradePoints = map[string]float64{
	"A": 4.0, "B+": 3.5, "B": 3.0, "C+": 2.5, "C": 2.0,
	"D+": 1.5, "D": 1.0, "E": 0.5, "F": 0.0,
}

// LetterGrade derives the letter grade for a score, or a ValidationError
// when the score is outside [0,100].
func LetterGrade(score float64) (string, error) {
	if score < 0 || score > 100 {
		return "", &shared.ValidationError{Field: "score", Message: "must be between 0 and 100"}
	}
	for _, band := range gradeBands {
		if score >= band.Min {
			return band.Letter, nil
		}
	}
	return "F", nil
}

// GradePoints returns the grade-point value for a letter grade (0 for
// unknown letters).
func GradePoints(letter string) float64 {
	return gradePoints[letter]
}

// IsValidGrade checks a letter grade against the UCAES scale.
func IsValidGrade(letter string) bool {
	_, ok := gradePoints[letter]
	return ok
}

// scoreSummary computes the mean/min/max shown to approvers on submission.
func scoreSummary(scores []float64) (mean, min, max float64) {
	if len(scores) == 0 {
		return 0, 0, 0
	}
	data := stats.Float64Data(scores)
	mean, _ = data.Mean()
	mean, _ = stats.Round(mean, 2)
	min, _ = data.Min()
	max, _ = data.Max()
	return mean, min, max
}
