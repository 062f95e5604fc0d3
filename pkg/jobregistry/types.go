package jobregistry

import (
	"math"
	"time"
)

// Status is the lifecycle state of a conversion job.
//
// NOTE: These values are serialized to the UI layer and to the on-disk
// archive; treat them as a stable contract.
type Status string

const (
	// StatusIdle is the zero state before any submission. A registered job
	// is never observed in this state.
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Job is the mutable state of one submitted batch.
type Job struct {
	ID       string   `json:"id"`
	Status   Status   `json:"status"`
	Progress float64  `json:"progress"`
	Log      []string `json:"log"`
	Outputs  []string `json:"outputs"`
	Preview  *string  `json:"preview,omitempty"`
	Error    *string  `json:"error,omitempty"`

	CurrentMessage *string `json:"currentMessage,omitempty"`
	PageCurrent    *int    `json:"pageCurrent,omitempty"`
	PageTotal      *int    `json:"pageTotal,omitempty"`
	ETASeconds     *int    `json:"etaSeconds,omitempty"`

	Inputs    []string   `json:"inputs,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// NewJob returns a job in the Running state with progress 0.
func NewJob(id string, inputs []string, now time.Time) Job {
	return Job{
		ID:        id,
		Status:    StatusRunning,
		Progress:  0,
		Log:       []string{},
		Outputs:   []string{},
		Inputs:    append([]string(nil), inputs...),
		CreatedAt: now.UTC(),
	}
}

// AppendLog records one raw line.
func (j *Job) AppendLog(line string) {
	j.Log = append(j.Log, line)
}

// RaiseProgress moves progress forward to target, never past limit, and
// never backwards. It reports whether progress changed.
func (j *Job) RaiseProgress(target, limit float64) bool {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return false
	}
	if target > limit {
		target = limit
	}
	if target <= j.Progress {
		return false
	}
	j.Progress = target
	return true
}

// SetMessage sets the current stage label.
func (j *Job) SetMessage(msg string) {
	j.CurrentMessage = &msg
}

// SetPages sets the page position within the current file.
func (j *Job) SetPages(current, total *int) {
	if current != nil {
		v := *current
		j.PageCurrent = &v
	}
	if total != nil {
		v := *total
		j.PageTotal = &v
	}
}

// SetETA sets the estimate, or clears it when seconds is nil.
func (j *Job) SetETA(seconds *int) {
	if seconds == nil {
		j.ETASeconds = nil
		return
	}
	v := *seconds
	j.ETASeconds = &v
}

// Finish transitions the job to Done.
func (j *Job) Finish(outputs []string, preview string, now time.Time) {
	j.Status = StatusDone
	j.Progress = 100
	j.Outputs = append([]string{}, outputs...)
	j.Preview = &preview
	j.ETASeconds = nil
	t := now.UTC()
	j.EndedAt = &t
}

// Fail transitions the job to Error.
func (j *Job) Fail(msg string, now time.Time) {
	j.Status = StatusError
	j.Error = &msg
	j.ETASeconds = nil
	t := now.UTC()
	j.EndedAt = &t
}

// Clone returns a deep copy safe to hand to readers.
func (j Job) Clone() Job {
	out := j
	out.Log = append([]string{}, j.Log...)
	out.Outputs = append([]string{}, j.Outputs...)
	out.Inputs = append([]string(nil), j.Inputs...)
	out.Preview = cloneString(j.Preview)
	out.Error = cloneString(j.Error)
	out.CurrentMessage = cloneString(j.CurrentMessage)
	out.PageCurrent = cloneInt(j.PageCurrent)
	out.PageTotal = cloneInt(j.PageTotal)
	out.ETASeconds = cloneInt(j.ETASeconds)
	if j.EndedAt != nil {
		t := *j.EndedAt
		out.EndedAt = &t
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
