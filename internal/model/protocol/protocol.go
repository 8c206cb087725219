package protocol

import (
	"strconv"
	"time"
)

const (
	Gynecology = "gynecology"
	Pregnancy  = "pregnancy"
)

// Protocol describes one intake track: its model settings, question catalog
// and where suspected cases are handed off. TracksPregnancy keeps a running
// pregnancy assessment in the session metadata.
type Protocol struct {
	ID                 string        `json:"id" yaml:"id"`
	Name               string        `json:"name" yaml:"name"`
	IDPrefix           string        `json:"idPrefix" yaml:"id_prefix"`
	Model              string        `json:"model" yaml:"model"`
	Temperature        float32       `json:"temperature" yaml:"temperature"`
	TopP               float32       `json:"topP" yaml:"top_p"`
	Timeout            time.Duration `json:"timeout" yaml:"timeout"`
	SystemPrompt       string        `json:"systemPrompt" yaml:"system_prompt"`
	OpeningInstruction string        `json:"openingInstruction" yaml:"opening_instruction"`
	FollowUpHint       string        `json:"followUpHint" yaml:"follow_up_hint"`
	TransferTarget     string        `json:"transferTarget,omitempty" yaml:"transfer_target"`
	MinAge             int           `json:"minAge,omitempty" yaml:"min_age"`
	TracksPregnancy    bool          `json:"tracksPregnancy,omitempty" yaml:"tracks_pregnancy"`
	Questions          []Question    `json:"questions" yaml:"questions"`
}

// Question is a catalog entry for a scripted question.
type Question struct {
	Key  string `json:"key" yaml:"key"`
	Text string `json:"text" yaml:"text"`
}

// QuestionKey returns the catalog key for the question asked after n answers.
func (p Protocol) QuestionKey(n int) string {
	if n >= 0 && n < len(p.Questions) {
		return p.Questions[n].Key
	}
	return "extra_" + strconv.Itoa(n+1)
}

// QuestionText returns the catalog text for key, if the key is known.
func (p Protocol) QuestionText(key string) (string, bool) {
	for _, q := range p.Questions {
		if q.Key == key {
			return q.Text, true
		}
	}
	return "", false
}

// Seed provides the gynecology and pregnancy tracks. Model names are
// overridden from configuration at startup.
func Seed() []Protocol {
	return []Protocol{
		{
			ID:          Gynecology,
			Name:        "Gynecology intake",
			IDPrefix:    "patient",
			Model:       "gemma3-medical",
			Temperature: 0.4,
			TopP:        0.9,
			Timeout:     30 * time.Second,
			SystemPrompt: "You are a professional gynecology medical assistant.\n\n" +
				"Rules:\n" +
				"- Ask ONLY ONE question at a time\n" +
				"- Follow standard gynecology history taking order\n" +
				"- Be concise and clear\n" +
				"- Do NOT give diagnosis or treatment yet\n" +
				"- If answers suggest pregnancy, continue history but do not conclude\n\n" +
				"Always end with ONE clear question.",
			OpeningInstruction: "Start the consultation with a polite greeting and ask the chief complaint.",
			FollowUpHint:       "پاسخ بیمار ثبت شد. لطفاً سوال بعدی را طبق ترتیب شرح حال بپرس.",
			TransferTarget:     Pregnancy,
			MinAge:             12,
			Questions: []Question{
				{Key: "age", Text: "سال تولد شما چیست؟"},
				{Key: "chief_complaint", Text: "مشکل اصلی شما چیست؟"},
				{Key: "lmp", Text: "اولین روز آخرین قاعدگی شما چه تاریخی بود؟"},
				{Key: "cycle_regular", Text: "آیا قاعدگی‌های شما منظم است؟"},
				{Key: "pregnancy_history", Text: "سابقه بارداری یا زایمان دارید؟"},
				{Key: "contraception", Text: "از چه روش پیشگیری استفاده می‌کنید؟"},
				{Key: "current_symptoms", Text: "در حال حاضر چه علائمی دارید؟"},
				{Key: "medical_history", Text: "سابقه بیماری خاصی دارید؟"},
				{Key: "medications", Text: "چه داروهایی مصرف می‌کنید؟"},
				{Key: "surgery_history", Text: "سابقه جراحی دارید؟"},
				{Key: "drug_allergy", Text: "به دارویی حساسیت دارید؟"},
			},
		},
		{
			ID:          Pregnancy,
			Name:        "Pregnancy consultation",
			IDPrefix:    "pregnancy",
			Model:       "pregnancy-assistant",
			Temperature: 0.6,
			TopP:        0.85,
			Timeout:     45 * time.Second,
			SystemPrompt: "شما یک متخصص بارداری و زایمان هستید.\n\n" +
				"قوانین:\n" +
				"- همیشه فارسی پاسخ دهید\n" +
				"- یک سوال در هر پیام\n" +
				"- تشخیص قطعی ندهید\n" +
				"- لحن دلسوزانه و حرفه‌ای",
			OpeningInstruction: "بر اساس اطلاعات قبلی، احتمال بارداری بررسی می‌شود. اولین سوال را مطرح کنید.",
			TracksPregnancy:    true,
			Questions: []Question{
				{Key: "lmp_confirm", Text: "تاریخ دقیق آخرین قاعدگی را تایید می‌کنید؟"},
				{Key: "pregnancy_test", Text: "آیا تست بارداری یا آزمایش بتا انجام داده‌اید؟"},
				{Key: "symptoms", Text: "چه علائمی مثل تهوع یا حساسیت پستان دارید؟"},
				{Key: "risk_factors", Text: "سابقه سقط یا بارداری پرخطر دارید؟"},
				{Key: "ultrasound", Text: "سونوگرافی انجام داده‌اید؟"},
			},
		},
	}
}
