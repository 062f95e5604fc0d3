package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// CropRect is a crop rectangle in normalized [0,1] page coordinates.
type CropRect struct {
	Left   float64 `json:"left" yaml:"left" validate:"gte=0,lte=1"`
	Top    float64 `json:"top" yaml:"top" validate:"gte=0,lte=1"`
	Width  float64 `json:"width" yaml:"width" validate:"gt=0,lte=1"`
	Height float64 `json:"height" yaml:"height" validate:"gt=0,lte=1"`
}

// Arg renders the rectangle the way the pipeline's --crop flag expects.
func (c CropRect) Arg() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", c.Left, c.Top, c.Width, c.Height)
}

// FileOptions are per-input overrides.
type FileOptions struct {
	Start *int      `json:"start,omitempty" yaml:"start,omitempty" validate:"omitempty,gte=1"`
	End   *int      `json:"end,omitempty" yaml:"end,omitempty" validate:"omitempty,gte=1"`
	Crop  *CropRect `json:"crop,omitempty" yaml:"crop,omitempty"`
}

// RunOptions configure one submission. They are not modified after the job
// starts.
type RunOptions struct {
	Formats      []string `json:"formats" yaml:"formats" validate:"dive,required,excludesall=/\\"`
	ImageAsPDF   bool     `json:"imageAsPdf" yaml:"image_as_pdf"`
	EnableFigure bool     `json:"enableFigure" yaml:"enable_figure"`
	UseGPU       bool     `json:"useGpu" yaml:"use_gpu"`
	Mode         string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	ChunkSize    *int     `json:"chunkSize,omitempty" yaml:"chunk_size,omitempty" validate:"omitempty,gt=0"`
	EnableRest   bool     `json:"enableRest" yaml:"enable_rest"`
	RestSeconds  *int     `json:"restSeconds,omitempty" yaml:"rest_seconds,omitempty" validate:"omitempty,gt=0"`
	PDFDPI       *int     `json:"pdfDpi,omitempty" yaml:"pdf_dpi,omitempty" validate:"omitempty,gt=0"`
	ExcelMode    string   `json:"excelMode,omitempty" yaml:"excel_mode,omitempty"`

	// FileOptions is keyed by the exact input path string.
	FileOptions map[string]FileOptions `json:"fileOptions,omitempty" yaml:"file_options,omitempty" validate:"dive"`
}

// DefaultRunOptions are used when a submission carries no options.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Formats:      []string{"md"},
		EnableFigure: true,
	}
}

// ForInput returns the overrides registered for input, if any.
func (o RunOptions) ForInput(input string) (FileOptions, bool) {
	if o.FileOptions == nil {
		return FileOptions{}, false
	}
	fo, ok := o.FileOptions[input]
	return fo, ok
}

// ErrInvalidOptions is wrapped by every ValidationErrors.
var ErrInvalidOptions = errors.New("invalid run options")

// ValidationError is a single rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every rejected field.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "options validation failed with %d errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrInvalidOptions
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (o RunOptions) Validate() error {
	var errs ValidationErrors

	if err := getValidator().Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate run options: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Field:   fe.Namespace(),
				Message: describeTag(fe),
			})
		}
	}

	for input, fo := range o.FileOptions {
		if strings.TrimSpace(input) == "" {
			errs = append(errs, ValidationError{Field: "RunOptions.FileOptions", Message: "empty input path key"})
		}
		if fo.Start != nil && fo.End != nil && *fo.End < *fo.Start {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("RunOptions.FileOptions[%s]", input),
				Message: fmt.Sprintf("end page %d is before start page %d", *fo.End, *fo.Start),
			})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "excludesall":
		return "must not contain path separators"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
