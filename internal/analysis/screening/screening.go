package screening

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
)

// UnderageReferral is returned when the patient is too young for a remote
// gynecology visit.
const UnderageReferral = "با توجه به سن بیمار، این نوع ویزیت نیازمند بررسی و ارجاع حضوری توسط پزشک متخصص است."

// Decision is the outcome of the pregnancy heuristic.
type Decision struct {
	// Suspected is set by any pregnancy signal.
	Suspected bool
	// Transfer is set only when symptoms come with a duration of a few
	// months, which is enough to move the case without the model.
	Transfer bool
	Score    int
	Signals  []string
}

// direct keywords raise suspicion; the model decides on the transfer.
var directKeywords = []string{
	"تاخیر قاعدگی", "تاخیر پریود", "تست بارداری", "حالت تهوع", "استفراغ صبح", "پستان حساس", "باردار",
	"pregnant", "pregnancy test", "missed period", "late period", "morning sickness",
}

// symptom keywords only count together with a duration of a few months.
var symptomKeywords = []string{
	"تهوع", "استفراغ", "خستگی", "ویار",
	"nausea", "vomiting", "fatigue", "craving",
}

var durationKeywords = []string{
	"2 ماه", "3 ماه", "۲ ماه", "۳ ماه", "سه ماه", "دو ماه",
	"2 months", "3 months", "two months", "three months",
}

// negationCues mark an answer that denies what it mentions. Short words are
// padded so "خیر" does not match inside "تاخیر".
var negationCues = []string{
	"ندارم", "نیستم", "نبوده", "نداشتم", "نیست", "منفی", " خیر ", " نه ",
	" no ", " not ", " never ", "negative",
}

var lmpKeywords = []string{"قاعدگی", "پریود", "period", "lmp"}

// Assess scores the patient's answers for pregnancy suspicion. Answers
// carrying a negation cue are ignored.
func Assess(answers []string) Decision {
	var kept []string
	for _, a := range answers {
		text := strings.ToLower(normalizeDigits(strings.TrimSpace(a)))
		if text == "" || Negated(text) {
			continue
		}
		kept = append(kept, text)
	}
	if len(kept) == 0 {
		return Decision{}
	}
	text := strings.Join(kept, " ")

	var d Decision
	for _, kw := range directKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			d.Score += 3
			d.Signals = append(d.Signals, kw)
		}
	}

	symptom := matchAny(text, symptomKeywords)
	duration := matchAny(text, durationKeywords)
	if symptom != "" && duration != "" {
		d.Score += 2
		d.Signals = append(d.Signals, symptom, duration)
		d.Transfer = true
	}

	d.Suspected = d.Score >= 2
	return d
}

// Negated reports whether the answer denies what it mentions, e.g.
// "سابقه بارداری ندارم" or "I am not pregnant".
func Negated(answer string) bool {
	text := " " + strings.ToLower(strings.Join(strings.Fields(answer), " ")) + " "
	for _, r := range []string{".", ",", "،", "!", "?", "؟"} {
		text = strings.ReplaceAll(text, r, " ")
	}
	return matchAny(text, negationCues) != ""
}

// AssessTurns is Assess over the answers of a history.
func AssessTurns(turns []intake.Turn) Decision {
	answers := make([]string, 0, len(turns))
	for _, t := range turns {
		answers = append(answers, t.Answer)
	}
	return Assess(answers)
}

// Age derives the patient's age from a birth-year or age answer. A four
// digit year anywhere in the answer wins, so dates such as "3/4/1990" are
// read by their year. Otherwise the answer must hold exactly one number.
// Years in the 1300s and 1400s are read as Solar Hijri. ok is false when the
// answer holds no usable number.
func Age(answer string, now time.Time) (age int, ok bool) {
	runs := digitRuns(normalizeDigits(answer))
	if len(runs) == 0 {
		return 0, false
	}

	token := ""
	for _, r := range runs {
		if len(r) == 4 {
			token = r
			break
		}
	}
	if token == "" {
		if len(runs) > 1 {
			return 0, false
		}
		token = runs[0]
	}

	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, false
	}

	year := now.Year()
	switch {
	case n > 0 && n < 130 && len(token) < 4:
		return n, true
	case n >= 1300 && n < 1500:
		return year - 621 - n, true
	case n >= 1900 && n <= year:
		return year - n, true
	}
	return 0, false
}

func digitRuns(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
}

// Underage reports whether the answer names a patient younger than minAge.
func Underage(answer string, now time.Time, minAge int) bool {
	age, ok := Age(answer, now)
	return ok && minAge > 0 && age < minAge
}

// CarryOver extracts the facts a pregnancy consultation starts from.
func CarryOver(turns []intake.Turn) map[string]string {
	out := map[string]string{}
	var symptoms []string
	explicitLMP := false
	for _, t := range turns {
		answer := strings.TrimSpace(t.Answer)
		if answer == "" {
			continue
		}
		switch {
		case strings.Contains(strings.ToLower(t.QuestionID), "lmp"):
			out["lmp"] = answer
			explicitLMP = true
		case !explicitLMP && matchAny(strings.ToLower(answer), lmpKeywords) != "":
			out["lmp"] = answer
		}
		if Assess([]string{answer}).Score > 0 || matchAny(strings.ToLower(answer), symptomKeywords) != "" {
			symptoms = append(symptoms, answer)
		}
	}
	if len(symptoms) > 0 {
		out["pregnancy_symptoms"] = strings.Join(symptoms, " | ")
	}
	return out
}

func matchAny(text string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return kw
		}
	}
	return ""
}

// normalizeDigits maps Persian and Arabic-Indic digits to ASCII.
func normalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		}
		return r
	}, s)
}
