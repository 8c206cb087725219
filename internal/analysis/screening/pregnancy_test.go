package screening

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectStatus(t *testing.T) {
	cases := []struct {
		text   string
		status PregnancyStatus
		ok     bool
	}{
		{"Beta test was negative, pregnancy ruled out.", StatusRuledOut, true},
		{"تست بتا منفی است", StatusRuledOut, true},
		{"Pregnancy confirmed by ultrasound.", StatusConfirmed, true},
		{"بارداری با سونوگرافی تایید شد", StatusConfirmed, true},
		{"Please do a beta hCG test.", StatusNeedsTesting, true},
		{"آزمایش خون لازم است", StatusNeedsTesting, true},
		{"Follow up with your gynecologist.", "", false},
	}
	for _, tc := range cases {
		status, ok := DetectStatus(tc.text)
		assert.Equalf(t, tc.ok, ok, "text %q", tc.text)
		assert.Equalf(t, tc.status, status, "text %q", tc.text)
	}
}

func TestParsePregnancyStatus(t *testing.T) {
	s, ok := ParsePregnancyStatus(" Needs_Testing ")
	assert.True(t, ok)
	assert.Equal(t, StatusNeedsTesting, s)

	_, ok = ParsePregnancyStatus("maybe")
	assert.False(t, ok)
}

func TestFindingsRecordsByQuestion(t *testing.T) {
	assert.Equal(t, map[string]string{KeyLMP: "1405/05/20"}, Findings("lmp_confirm", " 1405/05/20 ", nil))
	assert.Equal(t, map[string]string{KeyUltrasound: "sac seen"}, Findings("ultrasound", "sac seen", nil))
	assert.Nil(t, Findings("chief_complaint", "pain", nil))
	assert.Nil(t, Findings("lmp_confirm", "  ", nil))
}

func TestFindingsBetaNeedsValue(t *testing.T) {
	assert.Equal(t, map[string]string{KeyBetaHCG: "بتا ۱۲۰۰"}, Findings("pregnancy_test", "بتا ۱۲۰۰", nil))
	assert.Empty(t, Findings("pregnancy_test", "هنوز انجام نداده‌ام", nil))
}

func TestFindingsAppendsLists(t *testing.T) {
	current := map[string]string{KeySymptoms: "nausea"}

	out := Findings("symptoms", "fatigue", current)
	assert.Equal(t, "nausea | fatigue", out[KeySymptoms])

	out = Findings("symptoms", "nausea", current)
	assert.Equal(t, "nausea", out[KeySymptoms])

	assert.Empty(t, Findings("risk_factors", "سابقه بیماری ندارم", nil))
	assert.Equal(t, "diabetes", Findings("risk_factors", "diabetes", nil)[KeyRiskFactors])
}
