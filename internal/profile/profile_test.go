package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/pkg/models"
)

const sampleProfile = `
personal_info:
  name: Ada Lovelace
  email: ada@example.com
  phone: "+44 20 7946 0000"
  earliest_start: "2026-11-01"
  skills: Go, Kubernetes
work_experience:
  - company: Analytical Engines Ltd
    position: Staff Engineer
documents:
  - kind: transcript
    label: Transcript of Records
    file_path: docs/transcript.pdf
    priority: 5
  - kind: resume
    label: CV
    file_path: docs/cv.pdf
  - kind: cover_letter
    file_path: /abs/cover.pdf
answers:
  why_company: "Because {{.Job.Company}} builds {{.Job.Title}} tooling."
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(sampleProfile), "/profiles")
	require.NoError(t, err)

	assert.Equal(t, "Ada", p.Personal.FirstName)
	assert.Equal(t, "Lovelace", p.Personal.LastName)

	require.Len(t, p.Documents, 3)
	assert.Equal(t, DocResume, p.Documents[0].Kind, "list position wins when no priority is set")
	assert.True(t, p.Documents[0].Required)
	assert.Equal(t, filepath.Join("/profiles", "docs/cv.pdf"), p.Documents[0].FilePath)
	assert.Equal(t, "/abs/cover.pdf", p.Documents[1].FilePath)
	assert.Equal(t, "cover_letter", p.Documents[1].Label)
	assert.Equal(t, DocTranscript, p.Documents[2].Kind)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no name", "personal_info:\n  email: a@b.c\ndocuments:\n  - kind: resume\n    file_path: cv.pdf\n"},
		{"no resume", "personal_info:\n  name: A B\n  email: a@b.c\n"},
		{"not yaml", "personal_info: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input), "")
			assert.ErrorIs(t, err, errdefs.ErrConfiguration)
		})
	}
}

func TestLoad_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.json")
	body := `{"personal_info":{"first_name":"Grace","last_name":"Hopper","email":"g@example.com"},"documents":[{"kind":"resume","file_path":"cv.pdf"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", p.FullName())
	assert.Equal(t, filepath.Join(dir, "cv.pdf"), p.Documents[0].FilePath)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestCheckDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cv.pdf"), make([]byte, 2048), 0o600))

	p, err := Parse([]byte(`
personal_info: {name: A B, email: a@b.c}
documents:
  - {kind: resume, file_path: cv.pdf}
  - {kind: certificate, label: AWS, file_path: aws.pdf}
`), dir)
	require.NoError(t, err)

	dropped, err := p.CheckDocuments()
	require.NoError(t, err)
	assert.Equal(t, []string{"AWS"}, dropped)
	require.Len(t, p.Documents, 1)
	assert.Equal(t, int64(2048), p.Documents[0].Size)

	require.NoError(t, os.Remove(filepath.Join(dir, "cv.pdf")))
	_, err = p.CheckDocuments()
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestAnswer(t *testing.T) {
	p, err := Parse([]byte(sampleProfile), "")
	require.NoError(t, err)
	job := models.JobDescriptor{Title: "Platform", Company: "Acme"}

	tests := []struct {
		key  string
		want string
	}{
		{AnswerWhyCompany, "Because Acme builds Platform tooling."},
		{AnswerWhyPosition, "The Platform role fits my background in Go, Kubernetes and the direction I want to grow in."},
		{AnswerAvailability, "2026-11-01"},
		{AnswerSource, "Online job board"},
		{"favourite_colour", "I would welcome the chance to discuss how my experience can help Acme."},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := p.Answer(tt.key, job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
