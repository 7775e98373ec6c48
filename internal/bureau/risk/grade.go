package risk

// Grade is a letter creditworthiness tier, best to worst.
type Grade string

const (
	GradeAPlus  Grade = "A+"
	GradeAMinus Grade = "A-"
	GradeBPlus  Grade = "B+"
	GradeB      Grade = "B"
	GradeBMinus Grade = "B-"
	GradeCPlus  Grade = "C+"
	GradeC      Grade = "C"
	GradeCMinus Grade = "C-"
	GradeDPlus  Grade = "D+"
	GradeDMinus Grade = "D-"
	GradeEPlus  Grade = "E+"
	GradeEMinus Grade = "E-"
)

var order = []Grade{
	GradeAPlus, GradeAMinus, GradeBPlus, GradeB, GradeBMinus,
	GradeCPlus, GradeC, GradeCMinus, GradeDPlus, GradeDMinus,
	GradeEPlus, GradeEMinus,
}

func (g Grade) String() string { return string(g) }

// Rank returns 0 for the best grade and grows toward the worst; -1 if unknown.
func (g Grade) Rank() int {
	for i, o := range order {
		if o == g {
			return i
		}
	}
	return -1
}
