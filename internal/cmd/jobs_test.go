package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ricopen19/OCR-to-doc/internal/errors"
	"github.com/ricopen19/OCR-to-doc/pkg/jobregistry"
)

func seedArchive(t *testing.T, now time.Time) *jobregistry.Store {
	t.Helper()
	store := jobregistry.NewStore(t.TempDir())

	old := jobregistry.NewJob("aaaa1111-old", []string{"/in/old.pdf"}, now.Add(-30*24*time.Hour))
	old.AppendLog("line 1")
	old.Finish([]string{"old_merged.md"}, "# old", now.Add(-30*24*time.Hour))

	failed := jobregistry.NewJob("bbbb2222-failed", []string{"/in/bad.pdf"}, now.Add(-10*24*time.Hour))
	failed.Fail("pipeline failed (non-zero exit code 2)", now.Add(-10*24*time.Hour))

	recent := jobregistry.NewJob("cccc3333-recent", []string{"/in/new.pdf"}, now.Add(-time.Hour))
	for _, l := range []string{"one", "two", "three"} {
		recent.AppendLog(l)
	}
	recent.Finish([]string{"new_merged.md", "new.docx"}, "", now.Add(-time.Hour))

	for _, j := range []jobregistry.Job{old, failed, recent} {
		require.NoError(t, store.Write(j))
	}
	return store
}

func TestListJobs(t *testing.T) {
	now := time.Now().UTC()

	t.Run("empty archive", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, listJobs(&out, jobregistry.NewStore(t.TempDir()), false))
		assert.Equal(t, "No jobs found\n", out.String())
	})

	t.Run("table", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, listJobs(&out, seedArchive(t, now), false))

		lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
		require.Len(t, lines, 4)
		assert.Contains(t, string(lines[0]), "JOB ID")
		assert.Contains(t, string(lines[1]), "cccc3333-rec")
		assert.Contains(t, string(lines[1]), "done")
		assert.Contains(t, string(lines[2]), "error")
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, listJobs(&out, seedArchive(t, now), true))

		var jobs []jobregistry.Job
		require.NoError(t, json.Unmarshal(out.Bytes(), &jobs))
		require.Len(t, jobs, 3)
		assert.Equal(t, "cccc3333-recent", jobs[0].ID)
	})
}

func TestGCJobs(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name      string
		maxAge    time.Duration
		dryRun    bool
		want      int
		remaining int
	}{
		{"dry run", 7 * 24 * time.Hour, true, 2, 3},
		{"week", 7 * 24 * time.Hour, false, 2, 1},
		{"month and a half", 45 * 24 * time.Hour, false, 0, 3},
		{"one minute", time.Minute, false, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedArchive(t, now)

			n, err := gcJobs(store, tt.maxAge, tt.dryRun, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)

			left, err := store.List()
			require.NoError(t, err)
			assert.Len(t, left, tt.remaining)
		})
	}
}

func TestResolveJobID(t *testing.T) {
	store := seedArchive(t, time.Now().UTC())

	tests := []struct {
		name     string
		input    string
		want     string
		wantErr  string
		wantCode int
	}{
		{"full id", "bbbb2222-failed", "bbbb2222-failed", "", 0},
		{"unique prefix", "cccc", "cccc3333-recent", "", 0},
		{"padded", "  aaaa ", "aaaa1111-old", "", 0},
		{"unknown", "zzzz", "", "not found", foundry.ExitFileNotFound},
		{"empty", " ", "", "job_id is required", foundry.ExitMissingRequiredArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveJobID(store, tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, tt.wantCode, apperrors.ExitCodeFor(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("ambiguous", func(t *testing.T) {
		require.NoError(t, store.Write(jobregistry.NewJob("cccc9999-other", nil, time.Now())))
		_, err := resolveJobID(store, "cccc")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ambiguous")
		assert.Equal(t, foundry.ExitInvalidArgument, apperrors.ExitCodeFor(err))
	})
}

func TestPrintLogTail(t *testing.T) {
	lines := []string{"one", "two", "three"}

	tests := []struct {
		tail int
		want string
	}{
		{0, "one\ntwo\nthree\n"},
		{2, "two\nthree\n"},
		{10, "one\ntwo\nthree\n"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		printLogTail(&out, lines, tt.tail)
		assert.Equal(t, tt.want, out.String(), "tail=%d", tt.tail)
	}
}

func TestPrintJobStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	j := jobregistry.NewJob("job-1", []string{"/in/a.pdf"}, now)
	j.Fail("pipeline failed (non-zero exit code 1)", now.Add(time.Minute))

	var out bytes.Buffer
	printJobStatus(&out, &j)

	s := out.String()
	assert.Contains(t, s, "job-1")
	assert.Contains(t, s, "error")
	assert.Contains(t, s, "2026-03-01T09:01:00Z")
	assert.Contains(t, s, "pipeline failed (non-zero exit code 1)")
	assert.Contains(t, s, "/in/a.pdf")
}
