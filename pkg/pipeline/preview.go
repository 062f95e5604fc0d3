package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// PreviewRequest asks the preview helper to render one page.
type PreviewRequest struct {
	Path        string    `json:"path" validate:"required"`
	Page        *int      `json:"page,omitempty" validate:"omitempty,gte=1"`
	Crop        *CropRect `json:"crop,omitempty"`
	MaxLongEdge *int      `json:"maxLongEdge,omitempty" validate:"omitempty,gt=0"`
}

// PreviewResponse is the helper's JSON reply.
type PreviewResponse struct {
	DataURL   string `json:"dataUrl"`
	PageCount *int   `json:"pageCount,omitempty"`
	Page      *int   `json:"page,omitempty"`
}

// Validate checks the request's struct tags.
func (r PreviewRequest) Validate() error {
	if err := getValidator().Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// BuildPreview renders the preview helper invocation. Page defaults to 1.
func BuildPreview(env Environment, req PreviewRequest) Invocation {
	page := 1
	if req.Page != nil {
		page = *req.Page
	}
	args := []string{"-u", env.PreviewHelper, "--input", req.Path, "--page", strconv.Itoa(page)}
	if req.Crop != nil {
		args = append(args, "--crop", req.Crop.Arg())
	}
	if req.MaxLongEdge != nil {
		args = append(args, "--max-long-edge", strconv.Itoa(*req.MaxLongEdge))
	}
	return Invocation{Path: env.Interpreter, Args: args, Dir: env.ProjectRoot}
}

// RenderPreview runs the preview helper to completion and decodes its reply.
func RenderPreview(ctx context.Context, env Environment, req PreviewRequest) (PreviewResponse, error) {
	inv := BuildPreview(env, req)

	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return PreviewResponse{}, fmt.Errorf("preview helper failed: %s", strings.TrimSpace(stderr.String()))
		}
		return PreviewResponse{}, fmt.Errorf("failed to run preview helper: %w", err)
	}

	var resp PreviewResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return PreviewResponse{}, fmt.Errorf("failed to parse preview helper output: %w", err)
	}
	return resp, nil
}
