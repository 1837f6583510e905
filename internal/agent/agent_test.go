package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/internal/profile"
	"github.com/applybot-dev/applybot/pkg/models"
)

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		NavigationMaxSteps: 5,
		FormMaxSteps:       50,
		MaxFormPages:       3,
		MaxPlannerAttempts: 2,
		PageLoadTimeout:    time.Second,
		ActionTimeout:      time.Second,
		VerifyTimeout:      100 * time.Millisecond,
		VerifyPollInterval: 10 * time.Millisecond,
	}
}

const testProfileYAML = `
personal_info:
  name: Ada Lovelace
  email: ada@example.com
  phone: "+49 30 1234567"
  country: Germany
  earliest_start: "2026-11-01"
  birth_date: "1990-12-10"
work_experience:
  - company: Analytical Engines
    position: Staff Engineer
documents:
  - {kind: resume, label: CV, file_path: cv.pdf}
  - {kind: cover_letter, label: Cover Letter, file_path: cover.pdf}
  - {kind: certificate, label: Master Certificate, file_path: master.pdf}
  - {kind: transcript, label: Master Transcript, file_path: transcript.pdf}
  - {kind: language_certificate, label: German C1, file_path: german-c1.pdf}
`

func testProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p, err := profile.Parse([]byte(testProfileYAML), "/docs")
	require.NoError(t, err)
	for i := range p.Documents {
		p.Documents[i].Size = 1024
	}
	return p
}

func testJob() models.JobDescriptor {
	return models.JobDescriptor{Title: "Senior Go Engineer", Company: "Acme", URL: "https://board.example/job/1"}
}

// scriptedPlanner replays decisions and records instructions.
type scriptedPlanner struct {
	mu        sync.Mutex
	decisions []Decision
	calls     int
}

func (p *scriptedPlanner) Act(_ context.Context, _ string, _ *browser.PageState) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.decisions) == 0 {
		return Decision{Signal: SignalSkip}, nil
	}
	d := p.decisions[0]
	p.decisions = p.decisions[1:]
	return d, nil
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Decision
		wantErr bool
	}{
		{"click", `{"action":"click","ref":"e3"}`, Decision{Action: Action{Kind: ActionClick, Ref: "e3"}}, false},
		{"fenced", "```json\n{\"action\":\"type\",\"ref\":\"e1\",\"value\":\"Ada\"}\n```", Decision{Action: Action{Kind: ActionType, Ref: "e1", Value: "Ada"}}, false},
		{"alias", `{"action":"goto","url":"https://x.example"}`, Decision{Action: Action{Kind: ActionNavigate, URL: "https://x.example"}}, false},
		{"unknown kind", `{"action":"scroll"}`, Decision{Action: Action{Kind: ActionUnknown}}, false},
		{"signal", `{"done":"captcha_blocked","reason":"recaptcha"}`, Decision{Signal: SignalCaptcha, Reason: "recaptcha"}, false},
		{"boolean done is ignored", `{"done":false,"action":"click","ref":"e2"}`, Decision{Action: Action{Kind: ActionClick, Ref: "e2"}}, false},
		{"garbage", `click the button`, Decision{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDecision)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyField(t *testing.T) {
	tests := []struct {
		el   browser.Element
		want FieldKey
	}{
		{browser.Element{Tag: "input", Type: "text", Label: "First name *"}, FieldFirstName},
		{browser.Element{Tag: "input", Type: "text", Label: "Vorname"}, FieldFirstName},
		{browser.Element{Tag: "input", Type: "text", Label: "Prénom"}, FieldFirstName},
		{browser.Element{Tag: "input", Type: "text", Name: "last_name"}, FieldLastName},
		{browser.Element{Tag: "input", Type: "text", Label: "Full name"}, FieldFullName},
		{browser.Element{Tag: "input", Type: "text", Label: "Company name"}, FieldCurrentCompany},
		{browser.Element{Tag: "input", Type: "email", Label: "Contact"}, FieldEmail},
		{browser.Element{Tag: "input", Type: "text", Label: "Telefonnummer"}, FieldPhone},
		{browser.Element{Tag: "input", Type: "text", Label: "Geburtsdatum"}, FieldBirthDate},
		{browser.Element{Tag: "input", Type: "text", Label: "Frühester Eintrittstermin"}, FieldStartDate},
		{browser.Element{Tag: "input", Type: "text", Label: "PLZ"}, FieldPostalCode},
		{browser.Element{Tag: "select", Label: "Country"}, FieldCountry},
		{browser.Element{Tag: "textarea", Label: "Why do you want to join us?"}, FieldWhyCompany},
		{browser.Element{Tag: "textarea", Label: "Anything else?"}, FieldOpenQuestion},
		{browser.Element{Tag: "input", Type: "checkbox", Label: "I accept the privacy policy *"}, FieldConsent},
		{browser.Element{Tag: "input", Type: "checkbox", Label: "I agree to receive the newsletter"}, FieldNewsletter},
		{browser.Element{Tag: "input", Type: "checkbox", Label: "Willing to relocate"}, FieldUnknown},
		{browser.Element{Tag: "input", Type: "text", Label: "Favourite colour"}, FieldUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.el.Caption(), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyField(tt.el))
		})
	}
}

func TestDetectors(t *testing.T) {
	login := &browser.PageState{
		Text: "Sign in to apply",
		Elements: []browser.Element{
			{Ref: "u", Tag: "input", Type: "email", Label: "Email"},
			{Ref: "p", Tag: "input", Type: "password", Label: "Password"},
			{Ref: "b", Tag: "button", Text: "Sign in"},
		},
	}
	assert.True(t, IsLoginGate(login))
	assert.False(t, IsApplicationForm(login))

	form := &browser.PageState{Elements: []browser.Element{
		{Ref: "a", Tag: "input", Type: "text", Label: "First name"},
		{Ref: "b", Tag: "input", Type: "text", Label: "Last name"},
		{Ref: "c", Tag: "input", Type: "email", Label: "Email"},
		{Ref: "d", Tag: "input", Type: "password", Label: "Choose a password"},
		{Ref: "e", Tag: "input", Type: "file", Label: "CV"},
	}}
	assert.False(t, IsLoginGate(form), "account creation inside an application form is not a gate")
	assert.True(t, IsApplicationForm(form))

	search := &browser.PageState{Elements: []browser.Element{{Ref: "q", Tag: "input", Type: "search", Label: "Search jobs"}}}
	assert.False(t, IsApplicationForm(search))

	assert.True(t, IsCaptcha(&browser.PageState{Frames: []string{"https://www.google.com/recaptcha/api2/anchor?k=x"}}))
	assert.True(t, IsCaptcha(&browser.PageState{Text: "Please verify you are human"}))
	assert.False(t, IsCaptcha(&browser.PageState{Text: "Apply for this job"}))
	assert.False(t, IsCaptcha(&browser.PageState{
		Text:   "This site is protected by reCAPTCHA and the Google Privacy Policy applies.",
		Frames: []string{"https://www.google.com/recaptcha/api2/anchor?k=x&size=invisible", "https://www.google.com/recaptcha/api2/bframe?k=x"},
		Elements: []browser.Element{
			{Ref: "r", Tag: "textarea", Name: "g-recaptcha-response"},
		},
	}), "invisible badge")
	assert.True(t, IsCaptcha(&browser.PageState{Elements: []browser.Element{
		{Ref: "c", Tag: "input", Type: "text", Name: "captcha_code", Label: "Enter the code"},
	}}))

	assert.True(t, IsConfirmation(&browser.PageState{Text: "Vielen Dank für Ihre Bewerbung!"}))
	assert.True(t, IsConfirmation(&browser.PageState{Title: "Application submitted"}))
	assert.False(t, IsConfirmation(&browser.PageState{Text: "Submit your application"}))

	errs := FormErrors(&browser.PageState{Elements: []browser.Element{
		{Ref: "e", Tag: "input", Type: "email", Label: "Email", Invalid: true, Message: "Invalid email"},
	}})
	assert.Equal(t, []string{"Email: Invalid email"}, errs)
}

func TestCall_AbandonsHungOperation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := call(context.Background(), 50*time.Millisecond, "click", func(context.Context) error {
		<-release // ignores its context
		return nil
	})
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, errdefs.ErrTimeout)
	assert.Equal(t, errdefs.KindTimeout, errdefs.KindOf(err))
}

func TestCall_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := call(ctx, time.Second, "observe", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, errdefs.KindCancelled, errdefs.KindOf(err))
}

func TestParseUploadLimits(t *testing.T) {
	tests := []struct {
		text string
		want UploadLimits
	}{
		{"Attach up to 3 files (max. 5 MB each)", UploadLimits{MaxFiles: 3, MaxFileBytes: 5 << 20}},
		{"Maximum file size: 500 KB", UploadLimits{MaxFileBytes: 500 << 10}},
		{"Sie können maximal 2 Dateien hochladen", UploadLimits{MaxFiles: 2}},
		{"Upload your CV", UploadLimits{}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseUploadLimits(&browser.PageState{Text: tt.text}))
		})
	}
}

func TestPlanUploads(t *testing.T) {
	p := testProfile(t)
	attachments := browser.Element{Ref: "docs", Tag: "input", Type: "file", Label: "Attachments", Multiple: true}

	t.Run("transcript dropped first", func(t *testing.T) {
		plan, err := PlanUploads(p.Documents, []browser.Element{attachments}, UploadLimits{MaxFiles: 4})
		require.NoError(t, err)
		require.Len(t, plan.Dropped, 1)
		assert.Equal(t, profile.DocTranscript, plan.Dropped[0].Kind)
		require.Len(t, plan.Uploads, 1)
		assert.Len(t, plan.Uploads[0].Documents, 4)
		assert.Equal(t, profile.DocResume, plan.Uploads[0].Documents[0].Kind)
	})

	t.Run("then lowest priority optional", func(t *testing.T) {
		plan, err := PlanUploads(p.Documents, []browser.Element{attachments}, UploadLimits{MaxFiles: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"CV", "Cover Letter"}, labels(plan.Uploads[0].Documents))
		assert.Len(t, plan.Dropped, 3)
	})

	t.Run("specific inputs", func(t *testing.T) {
		inputs := []browser.Element{
			{Ref: "cv", Tag: "input", Type: "file", Label: "Resume/CV *", Required: true},
			{Ref: "cl", Tag: "input", Type: "file", Label: "Cover letter"},
		}
		plan, err := PlanUploads(p.Documents, inputs, UploadLimits{})
		require.NoError(t, err)
		require.Len(t, plan.Uploads, 2)
		assert.Equal(t, "cv", plan.Uploads[0].Ref)
		assert.Equal(t, []string{"/docs/cv.pdf"}, plan.Uploads[0].Paths())
		assert.Equal(t, "cl", plan.Uploads[1].Ref)
	})

	t.Run("required document over size limit", func(t *testing.T) {
		docs := append([]profile.Document(nil), p.Documents...)
		docs[0].Size = 10 << 20
		_, err := PlanUploads(docs, []browser.Element{attachments}, UploadLimits{MaxFileBytes: 5 << 20})
		assert.ErrorIs(t, err, errdefs.ErrForm)
	})

	t.Run("required upload field with no document", func(t *testing.T) {
		inputs := []browser.Element{{Ref: "tr", Tag: "input", Type: "file", Label: "Transcript of records", Required: true}}
		_, err := PlanUploads(p.Documents[:1], inputs, UploadLimits{})
		assert.ErrorIs(t, err, errdefs.ErrForm)
	})
}

func labels(docs []profile.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Label
	}
	return out
}
