package agent

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/applybot-dev/applybot/internal/browser"
)

// normalize lowercases s and strips diacritics so "Prénom" matches "prenom".
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// applyKeywords are apply affordance captions, most specific first.
var applyKeywords = []string{
	"apply now", "apply for this job", "apply for this position", "easy apply", "apply online",
	"jetzt bewerben", "online bewerben", "direkt bewerben", "bewerben",
	"postuler maintenant", "postuler",
	"立即申请", "申请职位", "申请",
	"submit application", "start application", "apply",
}

// applyScore ranks a control as an apply affordance. Zero means no match.
func applyScore(el browser.Element) int {
	caption := normalize(el.Caption())
	if caption == "" || len(caption) > 60 {
		return 0
	}
	if containsAny(caption, "linkedin", "indeed", "xing", "google", "facebook", "share", "save", "merken", "alert") {
		return 0
	}
	for i, kw := range applyKeywords {
		if strings.Contains(caption, kw) {
			return len(applyKeywords) - i
		}
	}
	return 0
}

// captchaPrompts ask the visitor to prove they are human. A bare mention of
// "captcha" is not enough: score-based badges print "protected by reCAPTCHA".
var captchaPrompts = []string{
	"verify you are human", "verify that you are human", "confirm you are human",
	"i'm not a robot", "i am not a robot", "are you a robot", "checking your browser",
	"complete the captcha", "solve the captcha", "complete the security check",
	"ich bin kein roboter", "je ne suis pas un robot",
}

var captchaFrames = []string{"google.com/recaptcha", "recaptcha.net", "hcaptcha.com", "challenges.cloudflare.com", "arkoselabs", "funcaptcha"}

// badgeFrame reports a challenge frame that is present on pages protected by
// an invisible, score-based check. Those never stop a human-like submit.
func badgeFrame(src string) bool {
	return strings.Contains(src, "size=invisible") || strings.Contains(src, "/bframe")
}

// IsCaptcha reports a challenge that blocks automated progress: a visible
// widget frame, a prompt to prove humanity, or a visible captcha input.
func IsCaptcha(page *browser.PageState) bool {
	for _, src := range page.Frames {
		src = strings.ToLower(src)
		if containsAny(src, captchaFrames...) && !badgeFrame(src) {
			return true
		}
	}
	if containsAny(normalize(page.Title+" "+page.Text), captchaPrompts...) {
		return true
	}
	for _, el := range page.Fields() {
		name := normalize(el.Name + " " + el.ID)
		if strings.Contains(name, "captcha") && !strings.Contains(name, "captcha-response") {
			return true
		}
	}
	return false
}

var loginMarkers = []string{
	"sign in", "log in", "login", "anmelden", "einloggen", "se connecter", "connexion", "登录",
	"create an account", "create account", "konto erstellen", "registrieren",
}

// IsLoginGate reports a page whose only way forward is authentication.
func IsLoginGate(page *browser.PageState) bool {
	hasPassword := false
	for _, el := range page.Fields() {
		if el.Type == "password" {
			hasPassword = true
			break
		}
	}
	if !hasPassword {
		return false
	}
	// an application form that also offers account creation is not a gate
	known := 0
	for _, el := range page.Fields() {
		if el.Type == "file" {
			return false
		}
		switch ClassifyField(el) {
		case FieldEmail, FieldPassword, FieldUnknown, FieldConsent, FieldNewsletter:
		default:
			known++
		}
	}
	if known >= 3 {
		return false
	}
	text := normalize(page.Title + " " + page.Text)
	return containsAny(text, loginMarkers...) || known == 0
}

// IsApplicationForm reports an interactive form that asks for applicant data.
func IsApplicationForm(page *browser.PageState) bool {
	if IsLoginGate(page) {
		return false
	}
	known, files := 0, 0
	for _, el := range page.Fields() {
		if el.Type == "file" {
			files++
			continue
		}
		switch ClassifyField(el) {
		case FieldUnknown, FieldConsent, FieldNewsletter, FieldPassword:
		default:
			known++
		}
	}
	return known >= 3 || (files > 0 && known >= 1)
}

var confirmationMarkers = []string{
	"thank you for applying", "thanks for applying", "thank you for your application",
	"application has been received", "application was received", "we have received your application",
	"we've received your application", "application submitted", "successfully submitted",
	"application has been submitted", "application complete",
	"vielen dank fur ihre bewerbung", "bewerbung wurde erfolgreich", "bewerbung ist eingegangen",
	"merci pour votre candidature", "candidature a bien ete envoyee",
	"申请已提交", "感谢您的申请",
}

// IsConfirmation reports a post-submit success page.
func IsConfirmation(page *browser.PageState) bool {
	return containsAny(normalize(page.Title+" "+page.Text), confirmationMarkers...)
}

var errorMarkers = []string{
	"please correct", "please fix", "please review the errors", "there was a problem with your submission",
	"this field is required", "field is required", "required field", "please fill out this field",
	"is not valid", "invalid email", "invalid phone",
	"bitte korrigieren", "pflichtfeld", "bitte fullen sie",
	"ce champ est obligatoire", "veuillez corriger",
}

// FormErrors lists the problems a page reports after a submit attempt.
func FormErrors(page *browser.PageState) []string {
	var out []string
	for _, el := range page.Fields() {
		if el.Invalid {
			msg := el.Message
			if msg == "" {
				msg = "invalid value"
			}
			out = append(out, el.Caption()+": "+msg)
		}
	}
	if len(out) > 0 {
		return out
	}
	text := normalize(page.Text)
	for _, m := range errorMarkers {
		if strings.Contains(text, m) {
			out = append(out, m)
		}
	}
	return out
}

var nextKeywords = []string{"next", "continue", "weiter", "fortfahren", "suivant", "continuer", "下一步", "save and continue", "proceed"}

var submitKeywords = []string{
	"submit application", "send application", "submit", "apply now", "apply",
	"bewerbung absenden", "absenden", "senden", "bewerben",
	"envoyer", "soumettre", "postuler", "提交",
}

// findControl returns the best matching enabled control for keywords.
func findControl(page *browser.PageState, keywords []string, skip func(browser.Element) bool) (browser.Element, bool) {
	best, bestScore := browser.Element{}, 0
	for _, el := range page.Controls() {
		if skip != nil && skip(el) {
			continue
		}
		caption := normalize(el.Caption())
		if caption == "" || len(caption) > 40 {
			continue
		}
		for i, kw := range keywords {
			if strings.Contains(caption, kw) {
				score := len(keywords) - i
				if el.Type == "submit" {
					score += len(keywords)
				}
				if score > bestScore {
					best, bestScore = el, score
				}
				break
			}
		}
	}
	return best, bestScore > 0
}
