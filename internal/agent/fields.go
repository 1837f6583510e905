package agent

import (
	"strings"
	"time"

	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/profile"
	"github.com/applybot-dev/applybot/pkg/models"
)

// FieldKey is what a form field asks for.
type FieldKey string

const (
	FieldUnknown         FieldKey = ""
	FieldFirstName       FieldKey = "first_name"
	FieldLastName        FieldKey = "last_name"
	FieldFullName        FieldKey = "full_name"
	FieldEmail           FieldKey = "email"
	FieldPhone           FieldKey = "phone"
	FieldAddress         FieldKey = "address"
	FieldCity            FieldKey = "city"
	FieldPostalCode      FieldKey = "postal_code"
	FieldCountry         FieldKey = "country"
	FieldLinkedIn        FieldKey = "linkedin"
	FieldGitHub          FieldKey = "github"
	FieldWebsite         FieldKey = "website"
	FieldBirthDate       FieldKey = "birth_date"
	FieldNationality     FieldKey = "nationality"
	FieldNoticePeriod    FieldKey = "notice_period"
	FieldStartDate       FieldKey = "start_date"
	FieldSalary          FieldKey = "salary"
	FieldLocation        FieldKey = "location"
	FieldWorkType        FieldKey = "work_type"
	FieldSkills          FieldKey = "skills"
	FieldCurrentCompany  FieldKey = "current_company"
	FieldCurrentPosition FieldKey = "current_position"
	FieldInstitution     FieldKey = "institution"
	FieldDegree          FieldKey = "degree"
	FieldFieldOfStudy    FieldKey = "field_of_study"
	FieldGraduation      FieldKey = "graduation_date"
	FieldSalutation      FieldKey = "salutation"
	FieldGender          FieldKey = "gender"
	FieldSource          FieldKey = "source"
	FieldWhyCompany      FieldKey = "why_company"
	FieldWhyPosition     FieldKey = "why_position"
	FieldCoverLetterText FieldKey = "cover_letter_text"
	FieldConsent         FieldKey = "consent"
	FieldNewsletter      FieldKey = "newsletter"
	FieldPassword        FieldKey = "password"
	FieldOpenQuestion    FieldKey = "open_question"
)

type fieldRule struct {
	key      FieldKey
	keywords []string
}

// Order matters: the first rule with a matching keyword wins.
var fieldRules = []fieldRule{
	{FieldPassword, []string{"password", "passwort", "mot de passe"}},
	{FieldNewsletter, []string{"newsletter", "marketing", "job alert", "talent community", "talent pool", "keep me informed", "updates about", "promotional"}},
	{FieldConsent, []string{"privacy", "datenschutz", "terms", "agree", "consent", "gdpr", "dsgvo", "einwillig", "i accept", "akzeptiere", "j'accepte", "confidentialite", "data protection"}},
	{FieldEmail, []string{"e-mail", "email", "courriel"}},
	{FieldFirstName, []string{"first name", "firstname", "first_name", "given name", "fname", "vorname", "prenom"}},
	{FieldLastName, []string{"last name", "lastname", "last_name", "surname", "family name", "lname", "nachname", "familienname", "nom de famille"}},
	{FieldWhyCompany, []string{"why do you want to join", "why do you want to work", "why us", "why our company", "why are you interested in", "warum mochten sie bei", "pourquoi nous"}},
	{FieldWhyPosition, []string{"why this position", "why this role", "why are you applying", "motivation", "warum bewerben sie sich", "pourquoi ce poste"}},
	{FieldCoverLetterText, []string{"cover letter", "anschreiben", "lettre de motivation"}},
	{FieldSource, []string{"how did you hear", "where did you hear", "where did you see", "how did you find", "referral source", "wie sind sie auf", "wie haben sie von", "comment avez-vous"}},
	{FieldCurrentCompany, []string{"current company", "current employer", "company name", "aktueller arbeitgeber", "employer", "arbeitgeber", "entreprise actuelle"}},
	{FieldCurrentPosition, []string{"current title", "current position", "job title", "current role", "aktuelle position", "poste actuel"}},
	{FieldBirthDate, []string{"date of birth", "birth date", "birthdate", "birthday", "geburtsdatum", "date de naissance", "dob"}},
	{FieldStartDate, []string{"earliest start", "start date", "available from", "availability", "when can you start", "eintrittstermin", "eintrittsdatum", "fruhester", "date de debut", "disponibilite"}},
	{FieldNoticePeriod, []string{"notice period", "kundigungsfrist", "preavis"}},
	{FieldSalary, []string{"salary", "compensation", "gehalt", "salaire", "remuneration"}},
	{FieldLinkedIn, []string{"linkedin"}},
	{FieldGitHub, []string{"github"}},
	{FieldWebsite, []string{"website", "portfolio", "homepage", "personal site", "url"}},
	{FieldPhone, []string{"phone", "mobile", "telephone", "telefon", "handy", "tel"}},
	{FieldPostalCode, []string{"postal code", "postcode", "zip", "plz", "postleitzahl", "code postal"}},
	{FieldCity, []string{"city", "town", "stadt", "wohnort", "ville"}},
	{FieldCountry, []string{"country", "land", "pays"}},
	{FieldAddress, []string{"street", "address", "strasse", "straße", "anschrift", "adresse"}},
	{FieldNationality, []string{"nationality", "citizenship", "staatsangehorigkeit", "nationalite"}},
	{FieldWorkType, []string{"work type", "employment type", "remote", "anstellungsart", "type de contrat"}},
	{FieldLocation, []string{"preferred location", "desired location", "location", "standort", "arbeitsort", "lieu"}},
	{FieldSkills, []string{"skills", "kenntnisse", "competences"}},
	{FieldInstitution, []string{"university", "school", "institution", "hochschule", "universitat", "ecole"}},
	{FieldDegree, []string{"degree", "abschluss", "diplome"}},
	{FieldFieldOfStudy, []string{"field of study", "major", "studiengang", "fachrichtung"}},
	{FieldGraduation, []string{"graduation", "abschlussdatum"}},
	{FieldSalutation, []string{"salutation", "anrede", "civilite"}},
	{FieldGender, []string{"gender", "geschlecht", "sexe"}},
	{FieldFullName, []string{"full name", "your name", "name", "vollstandiger name", "nom"}},
}

// ClassifyField maps a field onto what it asks for.
func ClassifyField(el browser.Element) FieldKey {
	switch el.Type {
	case "email":
		return FieldEmail
	case "tel":
		return FieldPhone
	case "password":
		return FieldPassword
	case "file":
		return FieldUnknown
	}

	haystack := normalize(strings.Join([]string{el.Label, el.Placeholder, el.Name, el.ID}, " "))
	haystack = strings.NewReplacer("_", " ", "-", " ").Replace(haystack)
	for _, rule := range fieldRules {
		for _, kw := range rule.keywords {
			kw = strings.NewReplacer("_", " ", "-", " ").Replace(normalize(kw))
			if matchKeyword(haystack, kw) {
				if el.Type == "checkbox" && rule.key != FieldConsent && rule.key != FieldNewsletter {
					return FieldUnknown
				}
				return rule.key
			}
		}
	}
	if el.Tag == "textarea" {
		return FieldOpenQuestion
	}
	return FieldUnknown
}

// matchKeyword matches short keywords on word boundaries and longer ones as substrings.
func matchKeyword(haystack, kw string) bool {
	if len(kw) > 4 {
		return strings.Contains(haystack, kw)
	}
	for _, word := range strings.FieldsFunc(haystack, func(r rune) bool {
		return r == ' ' || r == '*' || r == ':' || r == '(' || r == ')' || r == '/' || r == '.' || r == ','
	}) {
		if word == kw {
			return true
		}
	}
	return false
}

// IsDateField reports fields that take a date value.
func (k FieldKey) IsDateField() bool {
	return k == FieldBirthDate || k == FieldStartDate || k == FieldGraduation
}

// IsOpenQuestion reports fields answered with templated prose.
func (k FieldKey) IsOpenQuestion() bool {
	switch k {
	case FieldWhyCompany, FieldWhyPosition, FieldCoverLetterText, FieldOpenQuestion:
		return true
	}
	return false
}

// resolveValue returns the profile's value for key.
func resolveValue(key FieldKey, p *profile.Profile, job models.JobDescriptor) (string, bool) {
	pi := p.Personal
	current, _ := p.CurrentPosition()
	edu, _ := p.HighestEducation()

	var v string
	switch key {
	case FieldFirstName:
		v = pi.FirstName
	case FieldLastName:
		v = pi.LastName
	case FieldFullName:
		v = p.FullName()
	case FieldEmail:
		v = pi.Email
	case FieldPhone:
		v = pi.Phone
	case FieldAddress:
		v = pi.Address
	case FieldCity:
		v = pi.City
	case FieldPostalCode:
		v = pi.PostalCode
	case FieldCountry:
		v = pi.Country
	case FieldLinkedIn:
		v = pi.LinkedIn
	case FieldGitHub:
		v = pi.GitHub
	case FieldWebsite:
		v = pi.Website
	case FieldBirthDate:
		v = pi.BirthDate
	case FieldNationality:
		v = pi.Nationality
	case FieldNoticePeriod:
		v = pi.NoticePeriod
	case FieldStartDate:
		v = pi.EarliestStart
	case FieldLocation:
		v = pi.ExpectedLocation
	case FieldWorkType:
		v = pi.ExpectedWorkType
	case FieldSkills:
		v = pi.Skills
	case FieldSalutation:
		v = pi.Salutation
	case FieldGender:
		v = pi.Gender
	case FieldCurrentCompany:
		v = current.Company
	case FieldCurrentPosition:
		v = current.Position
	case FieldInstitution:
		v = edu.Institution
	case FieldDegree:
		v = edu.Degree
	case FieldFieldOfStudy:
		v = edu.FieldOfStudy
	case FieldGraduation:
		v = edu.EndDate
	case FieldSalary:
		v, _ = p.Answer(profile.AnswerSalary, job)
	case FieldSource:
		v, _ = p.Answer(profile.AnswerSource, job)
	case FieldWhyCompany:
		v, _ = p.Answer(profile.AnswerWhyCompany, job)
	case FieldWhyPosition, FieldCoverLetterText:
		v, _ = p.Answer(profile.AnswerWhyPosition, job)
	case FieldOpenQuestion:
		v, _ = p.Answer(profile.AnswerDefault, job)
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// matchOption picks the option that best matches want, or "" when none does.
func matchOption(options []string, want string) string {
	w := normalize(want)
	if w == "" {
		return ""
	}
	for _, o := range options {
		if normalize(o) == w {
			return o
		}
	}
	for _, o := range options {
		n := normalize(o)
		if n == "" || isPlaceholderOption(n) {
			continue
		}
		if strings.Contains(n, w) || strings.Contains(w, n) {
			return o
		}
	}
	return ""
}

func isPlaceholderOption(n string) bool {
	return containsAny(n, "select", "choose", "bitte wahlen", "auswahlen", "choisir", "--")
}

var dateLayouts = []string{"2006-01-02", "02.01.2006", "2.1.2006", "01/02/2006", "January 2, 2006", "2 January 2006", "2006-01", "01/2006", "January 2006"}

// parseDate reads a profile date in any of the common layouts.
func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dateLayoutFor infers the text layout a date field expects from its placeholder.
func dateLayoutFor(el browser.Element) string {
	ph := strings.ToLower(el.Placeholder)
	switch {
	case el.Type == "date":
		return "2006-01-02"
	case strings.Contains(ph, "tt.mm.jjjj"), strings.Contains(ph, "dd.mm.yyyy"):
		return "02.01.2006"
	case strings.Contains(ph, "mm/dd/yyyy"):
		return "01/02/2006"
	case strings.Contains(ph, "dd/mm/yyyy"), strings.Contains(ph, "jj/mm/aaaa"):
		return "02/01/2006"
	case strings.Contains(ph, "mm/yyyy"):
		return "01/2006"
	}
	return "2006-01-02"
}
