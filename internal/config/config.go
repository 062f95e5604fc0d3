// Package config loads ocrdoc settings.
//
// Sources, highest priority first: runtime overrides, environment variables
// (OCRDOC_ prefix), the settings file, built-in defaults.
package config

import (
	"time"

	"github.com/ricopen19/OCR-to-doc/pkg/export"
	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
	"github.com/ricopen19/OCR-to-doc/pkg/progress"
)

// Config is the fully resolved configuration.
type Config struct {
	// ProjectRoot pins the pipeline checkout. Empty means discover it.
	ProjectRoot string `mapstructure:"project_root"`

	Pipeline PipelineConfig    `mapstructure:"pipeline"`
	Progress progress.Tunables `mapstructure:"progress"`
	Server   ServerConfig      `mapstructure:"server"`
	Logging  LoggingConfig     `mapstructure:"logging"`
	Jobs     JobsConfig        `mapstructure:"jobs"`
	Defaults DefaultsConfig    `mapstructure:"defaults"`
	Export   ExportConfig      `mapstructure:"export"`
}

// PipelineConfig pins parts of the pipeline environment. Empty fields are
// discovered.
type PipelineConfig struct {
	Entry         string `mapstructure:"entry"`
	Interpreter   string `mapstructure:"interpreter"`
	PreviewHelper string `mapstructure:"preview_helper"`
	GPUDevice     string `mapstructure:"gpu_device"`
}

// ServerConfig configures `ocrdoc serve`.
type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// LoggingConfig configures the server logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Profile string `mapstructure:"profile" validate:"oneof=structured console"`
}

// JobsConfig configures the terminal-snapshot archive.
type JobsConfig struct {
	ArchiveEnabled bool   `mapstructure:"archive_enabled"`
	ArchiveDir     string `mapstructure:"archive_dir"`
}

// DefaultsConfig supplies the options used when a submission carries none.
// Zero numeric values leave the pipeline's own default in place.
type DefaultsConfig struct {
	Formats      []string `mapstructure:"formats" validate:"min=1,dive,required"`
	EnableFigure bool     `mapstructure:"enable_figure"`
	UseGPU       bool     `mapstructure:"use_gpu"`
	ChunkSize    int      `mapstructure:"chunk_size" validate:"gte=0"`
	RestSeconds  int      `mapstructure:"rest_seconds" validate:"gte=0"`
	PDFDPI       int      `mapstructure:"pdf_dpi" validate:"gte=0"`
}

// ExportConfig configures artifact export.
type ExportConfig struct {
	S3 export.S3Config `mapstructure:"s3"`
}

// Environment returns the configured (partial) pipeline environment.
func (c *Config) Environment() pipeline.Environment {
	return pipeline.Environment{
		ProjectRoot:   c.ProjectRoot,
		Entry:         c.Pipeline.Entry,
		Interpreter:   c.Pipeline.Interpreter,
		PreviewHelper: c.Pipeline.PreviewHelper,
		GPUDevice:     c.Pipeline.GPUDevice,
	}
}

// RunOptions converts the defaults section to submission options.
func (d DefaultsConfig) RunOptions() pipeline.RunOptions {
	opts := pipeline.RunOptions{
		Formats:      append([]string(nil), d.Formats...),
		EnableFigure: d.EnableFigure,
		UseGPU:       d.UseGPU,
	}
	if d.ChunkSize > 0 {
		v := d.ChunkSize
		opts.ChunkSize = &v
	}
	if d.RestSeconds > 0 {
		v := d.RestSeconds
		opts.EnableRest = true
		opts.RestSeconds = &v
	}
	if d.PDFDPI > 0 {
		v := d.PDFDPI
		opts.PDFDPI = &v
	}
	return opts
}
