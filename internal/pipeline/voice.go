package pipeline

import "github.com/makeasinger/panelcast/internal/model"

// Narration voices by age bracket and gender.
var voices = map[string]map[model.Gender]string{
	"young": {
		model.GenderMale:      "en-US-Neural2-J",
		model.GenderFemale:    "en-US-Neural2-F",
		model.GenderNonBinary: "en-US-Neural2-F",
	},
	"teen": {
		model.GenderMale:      "en-US-Standard-D",
		model.GenderFemale:    "en-US-Standard-E",
		model.GenderNonBinary: "en-US-Standard-H",
	},
	"adult": {
		model.GenderMale:      "en-US-Neural2-A",
		model.GenderFemale:    "en-US-Neural2-C",
		model.GenderNonBinary: "en-US-Neural2-F",
	},
}

func ageBracket(age int) string {
	switch {
	case age <= 12:
		return "young"
	case age <= 19:
		return "teen"
	default:
		return "adult"
	}
}

// SelectVoice picks the narrator for a reader. Genders without a dedicated
// voice use the non-binary one.
func SelectVoice(age int, gender model.Gender) string {
	bracket := voices[ageBracket(age)]
	if v, ok := bracket[gender]; ok {
		return v
	}
	return bracket[model.GenderNonBinary]
}
