// Package manifest loads batch conversion manifests.
//
// A manifest is a YAML or JSON file naming the inputs of one job and the
// options to run them with. Input entries may be doublestar globs; relative
// entries resolve against the manifest's directory.
//
// Example manifest (YAML):
//
//	version: "1"
//	inputs:
//	  - scans/2026/**/*.pdf
//	  - /data/invoices/march.pdf
//	options:
//	  formats: [md, docx]
//	  enable_figure: true
//	  chunk_size: 10
//	  file_options:
//	    /data/invoices/march.pdf:
//	      start: 3
//	      end: 9
//	export: s3://archive/ocr/
//
// JSON manifests use the same field names as the HTTP API (camelCase
// options).
package manifest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
)

// CurrentVersion is the only manifest version understood.
const CurrentVersion = "1"

// ErrValidationFailed is wrapped by every manifest validation error.
var ErrValidationFailed = errors.New("manifest validation failed")

// Manifest is one batch job.
type Manifest struct {
	// Version must be "1" when present.
	Version string `json:"version,omitempty" yaml:"version,omitempty" validate:"omitempty,eq=1"`

	// Inputs are file paths or doublestar patterns.
	Inputs []string `json:"inputs" yaml:"inputs" validate:"required,min=1,dive,required"`

	// Options default to pipeline.DefaultRunOptions when omitted.
	Options *pipeline.RunOptions `json:"options,omitempty" yaml:"options,omitempty" validate:"-"`

	// Export optionally copies every output to a local directory or an
	// s3:// prefix once the job is done.
	Export string `json:"export,omitempty" yaml:"export,omitempty"`
}

// ApplyDefaults fills optional fields.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = CurrentVersion
	}
	if m.Options == nil {
		opts := pipeline.DefaultRunOptions()
		m.Options = &opts
	}
}

// RunOptions returns the options to submit, defaults included.
func (m *Manifest) RunOptions() pipeline.RunOptions {
	if m.Options == nil {
		return pipeline.DefaultRunOptions()
	}
	return *m.Options
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks the manifest and its options.
func Validate(m *Manifest) error {
	validateOnce.Do(func() {
		validate = validator.New()
	})

	var problems []string
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q check", fe.Namespace(), fe.Tag()))
		}
	}
	if m.Options != nil {
		if err := m.Options.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n  - %s", ErrValidationFailed, strings.Join(problems, "\n  - "))
}
