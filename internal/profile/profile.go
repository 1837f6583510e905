// Package profile loads the applicant profile used to fill application forms.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"go.yaml.in/yaml/v3"

	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/pkg/models"
)

// Profile is the static, read-only applicant document.
type Profile struct {
	Personal   PersonalInfo      `yaml:"personal_info" json:"personal_info"`
	Experience []WorkExperience  `yaml:"work_experience" json:"work_experience"`
	Education  []Education       `yaml:"education" json:"education"`
	Documents  []Document        `yaml:"documents" json:"documents"`
	Answers    map[string]string `yaml:"answers" json:"answers"`

	baseDir string
}

// PersonalInfo holds identity and preference fields.
type PersonalInfo struct {
	FirstName        string `yaml:"first_name" json:"first_name"`
	LastName         string `yaml:"last_name" json:"last_name"`
	Name             string `yaml:"name" json:"name"`
	BirthDate        string `yaml:"birth_date" json:"birth_date"`
	Email            string `yaml:"email" json:"email"`
	Phone            string `yaml:"phone" json:"phone"`
	Address          string `yaml:"address" json:"address"`
	City             string `yaml:"city" json:"city"`
	PostalCode       string `yaml:"postal_code" json:"postal_code"`
	Country          string `yaml:"country" json:"country"`
	LinkedIn         string `yaml:"linkedin_profile" json:"linkedin_profile"`
	GitHub           string `yaml:"github_profile" json:"github_profile"`
	Website          string `yaml:"website" json:"website"`
	Nationality      string `yaml:"nationality" json:"nationality"`
	NoticePeriod     string `yaml:"notice_period" json:"notice_period"`
	EarliestStart    string `yaml:"earliest_start" json:"earliest_start"`
	ExpectedSalary   string `yaml:"expected_salary" json:"expected_salary"`
	ExpectedLocation string `yaml:"expected_location" json:"expected_location"`
	ExpectedWorkType string `yaml:"expected_work_type" json:"expected_work_type"`
	Skills           string `yaml:"skills" json:"skills"`
	Source           string `yaml:"source" json:"source"`
	Reason           string `yaml:"reason" json:"reason"`
	Gender           string `yaml:"gender" json:"gender"`
	Salutation       string `yaml:"salutation" json:"salutation"`
}

// WorkExperience is one position, most recent first.
type WorkExperience struct {
	Company      string   `yaml:"company" json:"company"`
	Position     string   `yaml:"position" json:"position"`
	StartDate    string   `yaml:"start_date" json:"start_date"`
	EndDate      string   `yaml:"end_date" json:"end_date"`
	Location     string   `yaml:"location" json:"location"`
	Technologies []string `yaml:"technologies" json:"technologies"`
}

// Education is one degree, highest first.
type Education struct {
	Institution  string `yaml:"institution" json:"institution"`
	Degree       string `yaml:"degree" json:"degree"`
	FieldOfStudy string `yaml:"field_of_study" json:"field_of_study"`
	StartDate    string `yaml:"start_date" json:"start_date"`
	EndDate      string `yaml:"end_date" json:"end_date"`
	GPA          string `yaml:"gpa" json:"gpa"`
}

// DocumentKind classifies attachments so they can be matched to upload fields.
type DocumentKind string

const (
	DocResume              DocumentKind = "resume"
	DocCoverLetter         DocumentKind = "cover_letter"
	DocCertificate         DocumentKind = "certificate"
	DocTranscript          DocumentKind = "transcript"
	DocLanguageCertificate DocumentKind = "language_certificate"
	DocOther               DocumentKind = "other"
)

// Document is one attachment. Lower Priority values are more important.
type Document struct {
	Kind     DocumentKind `yaml:"kind" json:"kind"`
	Label    string       `yaml:"label" json:"label"`
	FilePath string       `yaml:"file_path" json:"file_path"`
	Priority int          `yaml:"priority" json:"priority"`
	Required bool         `yaml:"required" json:"required"`
	Size     int64        `yaml:"-" json:"-"`
}

// Load reads a YAML or JSON profile. Relative document paths resolve
// against the profile's directory.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errdefs.Configuration("profile %s does not exist", path)
		}
		return nil, errdefs.Configuration("read profile %s: %v", path, err)
	}
	p, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a profile. JSON is valid YAML, so both formats are accepted.
func Parse(data []byte, baseDir string) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errdefs.Configuration("decode profile: %v", err)
	}
	p.baseDir = baseDir
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the fields every application needs.
func (p *Profile) Validate() error {
	var missing []string
	if p.FullName() == "" {
		missing = append(missing, "personal_info.name")
	}
	if p.Personal.Email == "" {
		missing = append(missing, "personal_info.email")
	}
	if len(missing) > 0 {
		return errdefs.Configuration("profile is missing %s", strings.Join(missing, ", "))
	}
	if _, ok := p.Document(DocResume); !ok {
		return errdefs.Configuration("profile has no resume document")
	}
	return nil
}

// CheckDocuments stats every document and records its size. A missing
// required document is a configuration error; a missing optional one is dropped.
func (p *Profile) CheckDocuments() ([]string, error) {
	var dropped []string
	kept := p.Documents[:0]
	for _, d := range p.Documents {
		info, err := os.Stat(d.FilePath)
		if err != nil {
			if d.Required {
				return nil, errdefs.Configuration("required document %s: %v", d.Label, err)
			}
			dropped = append(dropped, d.Label)
			continue
		}
		d.Size = info.Size()
		kept = append(kept, d)
	}
	p.Documents = kept
	return dropped, nil
}

func (p *Profile) normalize() {
	if p.Personal.Name == "" {
		p.Personal.Name = strings.TrimSpace(p.Personal.FirstName + " " + p.Personal.LastName)
	}
	if p.Personal.FirstName == "" && p.Personal.LastName == "" && p.Personal.Name != "" {
		parts := strings.Fields(p.Personal.Name)
		p.Personal.FirstName = strings.Join(parts[:len(parts)-1], " ")
		p.Personal.LastName = parts[len(parts)-1]
		if p.Personal.FirstName == "" {
			p.Personal.FirstName = p.Personal.LastName
		}
	}

	for i := range p.Documents {
		d := &p.Documents[i]
		if d.Kind == "" {
			d.Kind = DocOther
		}
		if d.Label == "" {
			d.Label = string(d.Kind)
		}
		if d.FilePath != "" && !filepath.IsAbs(d.FilePath) && p.baseDir != "" {
			d.FilePath = filepath.Join(p.baseDir, d.FilePath)
		}
		if d.Kind == DocResume {
			d.Required = true
		}
		// list order is the priority unless one is given explicitly
		if d.Priority == 0 {
			d.Priority = i + 1
		}
	}
	sort.SliceStable(p.Documents, func(i, j int) bool {
		return p.Documents[i].Priority < p.Documents[j].Priority
	})
}

// FullName returns the display name.
func (p *Profile) FullName() string {
	return strings.TrimSpace(p.Personal.Name)
}

// Document returns the highest priority document of a kind.
func (p *Profile) Document(kind DocumentKind) (Document, bool) {
	for _, d := range p.Documents {
		if d.Kind == kind {
			return d, true
		}
	}
	return Document{}, false
}

// CurrentPosition returns the most recent work experience, if any.
func (p *Profile) CurrentPosition() (WorkExperience, bool) {
	if len(p.Experience) == 0 {
		return WorkExperience{}, false
	}
	return p.Experience[0], true
}

// HighestEducation returns the first education entry, if any.
func (p *Profile) HighestEducation() (Education, bool) {
	if len(p.Education) == 0 {
		return Education{}, false
	}
	return p.Education[0], true
}

// Answer keys for templated responses.
const (
	AnswerWhyCompany   = "why_company"
	AnswerWhyPosition  = "why_position"
	AnswerSource       = "source"
	AnswerAvailability = "availability"
	AnswerSalary       = "salary"
	AnswerDefault      = "default"
)

var defaultAnswers = map[string]string{
	AnswerWhyCompany:   "I am drawn to {{.Job.Company}} because its work matches my experience{{if .Current.Position}} as {{.Current.Position}}{{end}} and I want to contribute to its team.",
	AnswerWhyPosition:  "The {{.Job.Title}} role fits my background{{if .Skills}} in {{.Skills}}{{end}} and the direction I want to grow in.",
	AnswerSource:       "{{if .Personal.Source}}{{.Personal.Source}}{{else}}Online job board{{end}}",
	AnswerAvailability: "{{if .Personal.EarliestStart}}{{.Personal.EarliestStart}}{{else if .Personal.NoticePeriod}}Notice period: {{.Personal.NoticePeriod}}{{else}}Immediately{{end}}",
	AnswerSalary:       "{{.Personal.ExpectedSalary}}",
	AnswerDefault:      "{{if .Personal.Reason}}{{.Personal.Reason}}{{else}}I would welcome the chance to discuss how my experience can help {{.Job.Company}}.{{end}}",
}

type answerData struct {
	Job      models.JobDescriptor
	Personal PersonalInfo
	Current  WorkExperience
	Skills   string
}

// Answer renders the response template for key, falling back to the default template.
func (p *Profile) Answer(key string, job models.JobDescriptor) (string, error) {
	text, ok := p.Answers[key]
	if !ok {
		text, ok = defaultAnswers[key]
	}
	if !ok {
		text = p.Answers[AnswerDefault]
		if text == "" {
			text = defaultAnswers[AnswerDefault]
		}
	}

	tmpl, err := template.New(key).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse answer template %s: %w", key, err)
	}
	current, _ := p.CurrentPosition()
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, answerData{
		Job:      job,
		Personal: p.Personal,
		Current:  current,
		Skills:   p.Personal.Skills,
	}); err != nil {
		return "", fmt.Errorf("render answer %s: %w", key, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
