package challenge

const (
	// AudioContentType marks the intercepted challenge audio.
	AudioContentType = "audio/mp3"
	// VerifyURLPrefix marks the verification response.
	VerifyURLPrefix = "https://www.google.com/recaptcha/api2/userverify"
	// footerClass is present on the challenge element when no action is needed.
	footerClass = "rc-footer"
)

// Selectors locate the widget's frames and controls.
type Selectors struct {
	BFrame       string
	MainFrame    string
	Challenge    string
	Invisible    string
	Label        string
	AudioButton  string
	AudioSource  string
	AnswerInput  string
	VerifyButton string
	ReloadButton string
}

// DefaultSelectors match the api2 widget.
func DefaultSelectors() Selectors {
	return Selectors{
		BFrame:       `iframe[src*="google.com/recaptcha/api2/bframe"]`,
		MainFrame:    `iframe[src*="google.com/recaptcha/api2/anchor"]`,
		Challenge:    "body > div > div",
		Invisible:    "div.rc-anchor-invisible",
		Label:        "#recaptcha-anchor-label",
		AudioButton:  "#recaptcha-audio-button",
		AudioSource:  "#audio-source",
		AnswerInput:  "#audio-response",
		VerifyButton: "#recaptcha-verify-button",
		ReloadButton: "#recaptcha-reload-button",
	}
}

// withDefaults fills empty fields from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.BFrame, d.BFrame)
	fill(&s.MainFrame, d.MainFrame)
	fill(&s.Challenge, d.Challenge)
	fill(&s.Invisible, d.Invisible)
	fill(&s.Label, d.Label)
	fill(&s.AudioButton, d.AudioButton)
	fill(&s.AudioSource, d.AudioSource)
	fill(&s.AnswerInput, d.AnswerInput)
	fill(&s.VerifyButton, d.VerifyButton)
	fill(&s.ReloadButton, d.ReloadButton)
	return s
}
