package pipeline

import (
	"strconv"
	"strings"
)

// Invocation is a fully rendered process launch.
type Invocation struct {
	Path string
	Args []string
	Dir  string
}

// Argv returns Path followed by Args.
func (inv Invocation) Argv() []string {
	return append([]string{inv.Path}, inv.Args...)
}

// String renders the argv for logs, quoting arguments that need it.
func (inv Invocation) String() string {
	argv := inv.Argv()
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\") {
			parts[i] = strconv.Quote(a)
			continue
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

// Build renders the dispatcher invocation for one input file.
//
// Dispatcher flags come first. Flags meant for the OCR stage follow an
// explicit "--" separator, which is omitted when there are none.
func Build(env Environment, input string, opts RunOptions) Invocation {
	args := make([]string, 0, 32)

	// --- Preamble ---
	args = append(args, "-u", env.Entry, input)

	// --- Dispatcher flags ---
	if len(opts.Formats) > 0 {
		args = append(args, "--formats")
		args = append(args, opts.Formats...)
	}
	if opts.ExcelMode != "" {
		args = append(args, "--excel-mode", opts.ExcelMode)
	}
	if opts.ImageAsPDF {
		args = append(args, "--image-as-pdf")
	}
	if opts.EnableFigure {
		args = append(args, "--figure")
	} else {
		args = append(args, "--no-figure")
	}
	args = append(args, "--device", device(env, opts))
	if opts.Mode != "" {
		args = append(args, "--mode", opts.Mode)
	}

	fo, hasFileOpts := opts.ForInput(input)
	if hasFileOpts && fo.Crop != nil {
		args = append(args, "--crop", fo.Crop.Arg())
	}

	// --- Pass-through flags ---
	extra := make([]string, 0, 12)
	if opts.ChunkSize != nil {
		extra = append(extra, "--chunk-size", strconv.Itoa(*opts.ChunkSize))
	}
	if opts.PDFDPI != nil {
		extra = append(extra, "--dpi", strconv.Itoa(*opts.PDFDPI))
	}
	if opts.EnableRest {
		extra = append(extra, "--enable-rest")
		if opts.RestSeconds != nil {
			extra = append(extra, "--rest-seconds", strconv.Itoa(*opts.RestSeconds))
		}
	}
	if hasFileOpts {
		if fo.Start != nil {
			extra = append(extra, "--start", strconv.Itoa(*fo.Start))
		}
		if fo.End != nil {
			extra = append(extra, "--end", strconv.Itoa(*fo.End))
		}
	}
	if len(extra) > 0 {
		args = append(args, "--")
		args = append(args, extra...)
	}

	return Invocation{
		Path: env.Interpreter,
		Args: args,
		Dir:  env.ProjectRoot,
	}
}

func device(env Environment, opts RunOptions) string {
	if !opts.UseGPU {
		return "cpu"
	}
	if env.GPUDevice != "" {
		return env.GPUDevice
	}
	return DefaultGPUDevice()
}
