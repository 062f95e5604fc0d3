// Package progress infers job progress from the conversion pipeline's
// free-text output.
//
// The pipeline has no machine-readable progress protocol. Interpret matches
// each stdout line against a fixed vocabulary of markers and returns the
// structured update it implies. Unknown lines produce an empty update.
package progress

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/ricopen19/OCR-to-doc/pkg/jobregistry"
)

// Stage labels shown to the user.
const (
	MessageMerge = "後処理: Markdown結合中"
	MessageDocx  = "後処理: Word変換中"
	MessageExcel = "後処理: Excel変換中"
)

// PageMessage is the label shown while page current of total is converted.
func PageMessage(current, total int) string {
	return fmt.Sprintf("PDF変換中: %d/%dページ", current, total)
}

// Band is the slice of the 0-100 scale owned by one input file.
type Band struct {
	Index int
	Count int
}

// Start is the first percentage inside the band.
func (b Band) Start() float64 {
	if b.Count <= 0 {
		return 0
	}
	return float64(b.Index) / float64(b.Count) * 100
}

// End is the first percentage past the band.
func (b Band) End() float64 {
	if b.Count <= 0 {
		return 100
	}
	return float64(b.Index+1) / float64(b.Count) * 100
}

// At maps a fraction of the band to an absolute percentage. The result
// never leaves [Start, End].
func (b Band) At(fraction float64) float64 {
	return b.Start() + (b.End()-b.Start())*fraction
}

// State is what the parser remembers between lines of one file's run.
type State struct {
	Band          Band
	RangeStart    *int
	RangeEnd      *int
	PageStartedAt *time.Time
	// Window holds recent page durations in seconds, oldest first.
	Window []float64
}

// NewState returns the initial state for one file.
func NewState(band Band) State {
	return State{Band: band}
}

// Update is the structured effect of one line. Nil fields leave the job
// untouched.
type Update struct {
	Rules       []string
	Progress    *float64
	Message     *string
	PageCurrent *int
	PageTotal   *int
	ETASeconds  *int
	ClearETA    bool
}

// Empty reports whether the line matched nothing.
func (u Update) Empty() bool {
	return len(u.Rules) == 0
}

func (u *Update) setETA(seconds int) {
	u.ETASeconds = &seconds
	u.ClearETA = false
}

func (u *Update) clearETA() {
	u.ETASeconds = nil
	u.ClearETA = true
}

func (u *Update) setMessage(msg string) {
	u.Message = &msg
}

func (u *Update) raise(target float64) {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return
	}
	if u.Progress == nil || target > *u.Progress {
		u.Progress = &target
	}
}

// Apply writes the update into job. Progress only moves forward and never
// past t.MaxInferred.
func (u Update) Apply(job *jobregistry.Job, t Tunables) {
	if u.Message != nil {
		job.SetMessage(*u.Message)
	}
	job.SetPages(u.PageCurrent, u.PageTotal)
	switch {
	case u.ClearETA:
		job.SetETA(nil)
	case u.ETASeconds != nil:
		job.SetETA(u.ETASeconds)
	}
	if u.Progress != nil {
		job.RaiseProgress(*u.Progress, t.MaxInferred)
	}
}

type rule struct {
	name    string
	pattern *regexp.Regexp
	apply   func(t Tunables, s *State, m []string, now time.Time, u *Update)
}

// Markers are matched independently; one line may trigger several rules.
var rules = []rule{
	{
		name:    "range",
		pattern: regexp.MustCompile(`^処理範囲:\s*(\d+)\s*〜\s*(\d+)\s*$`),
		apply:   applyRange,
	},
	{
		name:    "page",
		pattern: regexp.MustCompile(`^--- Page (\d+)/(\d+)(?:\s|$)`),
		apply:   applyPageStart,
	},
	{
		name:    "done",
		pattern: regexp.MustCompile(`^--- Done (\d+)/(\d+)(?:\s|$)`),
		apply:   applyPageDone,
	},
	{
		name:    "merge",
		pattern: regexp.MustCompile(regexp.QuoteMeta("--- merged_md.py を実行 ---")),
		apply:   stage(MessageMerge, func(t Tunables) float64 { return t.MergeFraction }),
	},
	{
		name:    "docx",
		pattern: regexp.MustCompile(regexp.QuoteMeta("[dispatcher] Converting to docx")),
		apply:   stage(MessageDocx, func(t Tunables) float64 { return t.DocxFraction }),
	},
	{
		name:    "excel",
		pattern: regexp.MustCompile(regexp.QuoteMeta("[dispatcher] processing excel_via=json")),
		apply:   stage(MessageExcel, func(t Tunables) float64 { return t.ExcelFraction }),
	},
}

// Interpret consumes one stdout line. It never fails; a line that matches
// no marker returns s unchanged and an empty Update.
func Interpret(t Tunables, s State, line string, now time.Time) (State, Update) {
	var u Update
	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		r.apply(t, &s, m, now, &u)
		u.Rules = append(u.Rules, r.name)
	}
	return s, u
}

func applyRange(_ Tunables, s *State, m []string, _ time.Time, u *Update) {
	start, ok1 := atoi(m[1])
	end, ok2 := atoi(m[2])
	if !ok1 || !ok2 {
		return
	}
	s.RangeStart = &start
	s.RangeEnd = &end
	total := end - start + 1
	if total < 0 {
		total = 0
	}
	u.PageTotal = &total
	u.clearETA()
}

func applyPageStart(_ Tunables, s *State, m []string, now time.Time, u *Update) {
	cur, ok1 := atoi(m[1])
	total, ok2 := atoi(m[2])
	if !ok1 || !ok2 {
		return
	}
	u.PageCurrent = &cur
	u.PageTotal = &total
	u.setMessage(PageMessage(cur, total))
	u.clearETA()
	started := now
	s.PageStartedAt = &started
}

func applyPageDone(t Tunables, s *State, m []string, now time.Time, u *Update) {
	cur, ok1 := atoi(m[1])
	totalInRun, ok2 := atoi(m[2])
	if !ok1 || !ok2 {
		return
	}

	if s.PageStartedAt != nil {
		secs := now.Sub(*s.PageStartedAt).Seconds()
		s.PageStartedAt = nil
		if secs > 0 && !math.IsInf(secs, 0) {
			window := append(append([]float64(nil), s.Window...), secs)
			if limit := windowSize(t); len(window) > limit {
				window = window[len(window)-limit:]
			}
			s.Window = window
		}
	}

	u.PageCurrent = &cur
	u.PageTotal = &totalInRun
	u.setMessage(PageMessage(cur, totalInRun))

	startPage, endPage := 1, totalInRun
	if s.RangeStart != nil && s.RangeEnd != nil {
		startPage, endPage = *s.RangeStart, *s.RangeEnd
	}
	totalPages := max(endPage-startPage+1, 1)
	donePages := min(max(cur-startPage+1, 1), totalPages)
	remaining := max(endPage-cur, 0)

	ratio := float64(donePages) / float64(totalPages)
	u.raise(s.Band.At(t.OCRFraction * ratio))

	if len(s.Window) == 0 || remaining == 0 {
		u.clearETA()
		return
	}
	if avg := mean(s.Window); avg > 0 {
		u.setETA(int(math.Round(avg * float64(remaining))))
	}
}

func stage(msg string, fraction func(Tunables) float64) func(Tunables, *State, []string, time.Time, *Update) {
	return func(t Tunables, s *State, _ []string, _ time.Time, u *Update) {
		u.setMessage(msg)
		u.clearETA()
		u.raise(s.Band.At(fraction(t)))
	}
}

func windowSize(t Tunables) int {
	if t.ETAWindow < 1 {
		return 1
	}
	return t.ETAWindow
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// Parser carries State across the lines of one file's stdout. It is not
// safe for concurrent use; one reader goroutine owns it.
type Parser struct {
	tunables Tunables
	state    State
	now      func() time.Time
}

// NewParser returns a parser for the file owning band. A nil now uses
// time.Now.
func NewParser(t Tunables, band Band, now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{tunables: t, state: NewState(band), now: now}
}

// Feed interprets one line and returns its update.
func (p *Parser) Feed(line string) Update {
	var u Update
	p.state, u = Interpret(p.tunables, p.state, line, p.now())
	return u
}

// State returns the current parser state.
func (p *Parser) State() State {
	return p.state
}
