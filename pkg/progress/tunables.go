package progress

import "fmt"

// Tunables are the band fractions and estimator settings used to turn log
// markers into a percentage. The defaults were tuned against real pipeline
// runs; they have no deeper derivation.
type Tunables struct {
	// OCRFraction is the share of a file's band consumed by page OCR.
	OCRFraction float64 `mapstructure:"ocr_fraction" json:"ocrFraction"`
	// MergeFraction is reached when markdown merging starts.
	MergeFraction float64 `mapstructure:"merge_fraction" json:"mergeFraction"`
	// DocxFraction is reached when word export starts.
	DocxFraction float64 `mapstructure:"docx_fraction" json:"docxFraction"`
	// ExcelFraction is reached when spreadsheet export starts.
	ExcelFraction float64 `mapstructure:"excel_fraction" json:"excelFraction"`
	// ETAWindow is how many recent page durations feed the estimate.
	ETAWindow int `mapstructure:"eta_window" json:"etaWindow"`
	// MaxInferred caps any inferred progress. Only a successful exit of the
	// last file may report 100.
	MaxInferred float64 `mapstructure:"max_inferred" json:"maxInferred"`
}

// DefaultTunables returns the stock settings.
func DefaultTunables() Tunables {
	return Tunables{
		OCRFraction:   0.90,
		MergeFraction: 0.92,
		DocxFraction:  0.96,
		ExcelFraction: 0.99,
		ETAWindow:     5,
		MaxInferred:   99,
	}
}

// Validate rejects settings that would break monotonic band mapping.
func (t Tunables) Validate() error {
	fractions := []struct {
		name string
		v    float64
	}{
		{"ocr_fraction", t.OCRFraction},
		{"merge_fraction", t.MergeFraction},
		{"docx_fraction", t.DocxFraction},
		{"excel_fraction", t.ExcelFraction},
	}
	for _, f := range fractions {
		if f.v <= 0 || f.v > 1 {
			return fmt.Errorf("progress.%s must be in (0, 1], got %v", f.name, f.v)
		}
	}
	if t.ETAWindow < 1 {
		return fmt.Errorf("progress.eta_window must be >= 1, got %d", t.ETAWindow)
	}
	if t.MaxInferred <= 0 || t.MaxInferred >= 100 {
		return fmt.Errorf("progress.max_inferred must be in (0, 100), got %v", t.MaxInferred)
	}
	return nil
}
