package agent

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/internal/profile"
)

// UploadLimits are the constraints a form states for attachments. Zero means unbounded.
type UploadLimits struct {
	MaxFiles     int
	MaxFileBytes int64
}

var (
	maxFilesRe = regexp.MustCompile(`(?:max(?:imum)?\.?|up to|at most|hochstens|maximal|jusqu'a)\s*(\d{1,2})\s*(?:files|documents|attachments|dateien|dokumente|anhange|fichiers)`)
	maxSizeRe  = regexp.MustCompile(`(?:max(?:imum)?\.?(?:\s*file)?(?:\s*size)?:?|up to|at most|hochstens|maximal|bis zu)\s*(\d+(?:[.,]\d+)?)\s*(kb|mb|gb)`)
)

// ParseUploadLimits reads count and size limits from the page text and the
// upload fields' captions.
func ParseUploadLimits(page *browser.PageState) UploadLimits {
	var texts []string
	texts = append(texts, page.Text)
	for _, el := range page.Fields() {
		if el.Type == "file" {
			texts = append(texts, el.Label, el.Placeholder)
		}
	}
	text := normalize(strings.Join(texts, " "))

	var limits UploadLimits
	if m := maxFilesRe.FindStringSubmatch(text); m != nil {
		limits.MaxFiles, _ = strconv.Atoi(m[1])
	}
	if m := maxSizeRe.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err == nil {
			unit := map[string]float64{"kb": 1 << 10, "mb": 1 << 20, "gb": 1 << 30}[m[2]]
			limits.MaxFileBytes = int64(v * unit)
		}
	}
	return limits
}

// documentKindFor infers which document an upload field wants. The empty
// kind marks a generic attachments field.
func documentKindFor(el browser.Element) profile.DocumentKind {
	caption := normalize(strings.Join([]string{el.Label, el.Name, el.ID, el.Placeholder}, " "))
	switch {
	case containsAny(caption, "cover", "anschreiben", "motivation"):
		return profile.DocCoverLetter
	case containsAny(caption, "transcript", "notenspiegel", "releve de notes"):
		return profile.DocTranscript
	case containsAny(caption, "language", "sprach", "langue"):
		return profile.DocLanguageCertificate
	case containsAny(caption, "certificate", "zertifikat", "zeugnis", "diploma", "diplome"):
		return profile.DocCertificate
	case containsAny(caption, "resume", "cv", "lebenslauf", "curriculum"):
		return profile.DocResume
	}
	return ""
}

// Upload is one file input and the documents attached to it.
type Upload struct {
	Ref       string
	Documents []profile.Document
}

// UploadPlan is the attachment assignment for one form page.
type UploadPlan struct {
	Uploads []Upload
	Dropped []profile.Document
}

// dropOrder ranks optional documents for removal. Transcripts go first, then
// the remaining optional documents from lowest priority up.
func dropOrder(docs []profile.Document) []int {
	var idx []int
	for i, d := range docs {
		if !d.Required {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		da, db := docs[idx[a]], docs[idx[b]]
		ta, tb := da.Kind == profile.DocTranscript, db.Kind == profile.DocTranscript
		if ta != tb {
			return ta
		}
		return da.Priority > db.Priority
	})
	return idx
}

// PlanUploads assigns documents to the page's file inputs within limits.
// A required document that cannot be attached is an upload failure.
func PlanUploads(docs []profile.Document, inputs []browser.Element, limits UploadLimits) (UploadPlan, error) {
	var plan UploadPlan
	if len(inputs) == 0 {
		return plan, nil
	}

	selected := make([]profile.Document, 0, len(docs))
	for _, d := range docs {
		if limits.MaxFileBytes > 0 && d.Size > limits.MaxFileBytes {
			if d.Required {
				return plan, fmt.Errorf("%w: %s is %d bytes, limit is %d", errdefs.ErrForm, d.Label, d.Size, limits.MaxFileBytes)
			}
			plan.Dropped = append(plan.Dropped, d)
			continue
		}
		selected = append(selected, d)
	}

	// which documents can land anywhere on this page
	generic := false
	wanted := map[profile.DocumentKind]bool{}
	for _, in := range inputs {
		kind := documentKindFor(in)
		if kind == "" {
			generic = true
		}
		wanted[kind] = true
	}
	placeable := selected[:0]
	for _, d := range selected {
		if generic || wanted[d.Kind] {
			placeable = append(placeable, d)
		}
	}
	selected = placeable

	if limits.MaxFiles > 0 && len(selected) > limits.MaxFiles {
		remove := map[int]bool{}
		for _, i := range dropOrder(selected) {
			if len(selected)-len(remove) <= limits.MaxFiles {
				break
			}
			remove[i] = true
		}
		if len(selected)-len(remove) > limits.MaxFiles {
			return plan, fmt.Errorf("%w: %d required documents exceed the limit of %d files", errdefs.ErrForm, len(selected)-len(remove), limits.MaxFiles)
		}
		kept := make([]profile.Document, 0, len(selected))
		for i, d := range selected {
			if remove[i] {
				plan.Dropped = append(plan.Dropped, d)
				continue
			}
			kept = append(kept, d)
		}
		selected = kept
	}

	used := make([]bool, len(selected))
	take := func(kind profile.DocumentKind) (profile.Document, bool) {
		for i, d := range selected {
			if !used[i] && d.Kind == kind {
				used[i] = true
				return d, true
			}
		}
		return profile.Document{}, false
	}

	var genericInputs []browser.Element
	for _, in := range inputs {
		kind := documentKindFor(in)
		if kind == "" {
			genericInputs = append(genericInputs, in)
			continue
		}
		if d, ok := take(kind); ok {
			plan.Uploads = append(plan.Uploads, Upload{Ref: in.Ref, Documents: []profile.Document{d}})
		} else if in.Required {
			return plan, fmt.Errorf("%w: no %s document for required upload %q", errdefs.ErrForm, kind, in.Caption())
		}
	}

	// leftovers go to generic inputs in priority order
	for _, in := range genericInputs {
		var batch []profile.Document
		for i, d := range selected {
			if used[i] {
				continue
			}
			used[i] = true
			batch = append(batch, d)
			if !in.Multiple {
				break
			}
		}
		if len(batch) > 0 {
			plan.Uploads = append(plan.Uploads, Upload{Ref: in.Ref, Documents: batch})
		}
	}

	for i, d := range selected {
		if !used[i] && d.Required {
			return plan, fmt.Errorf("%w: no upload field for required document %s", errdefs.ErrForm, d.Label)
		}
	}
	return plan, nil
}

// Paths returns the file paths of an upload.
func (u Upload) Paths() []string {
	out := make([]string, len(u.Documents))
	for i, d := range u.Documents {
		out[i] = d.FilePath
	}
	return out
}
