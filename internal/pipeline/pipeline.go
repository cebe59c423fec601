// Package pipeline runs one UploadJob through extraction, analysis and report
// export against the backend.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"greencheck-workspace/internal/analysis"
	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/apperr"
	"greencheck-workspace/internal/pipeline/progress"
	"greencheck-workspace/internal/report"
	"greencheck-workspace/internal/shared/config"
	"greencheck-workspace/internal/shared/metrics"
	"greencheck-workspace/internal/shared/telemetry"
	"greencheck-workspace/internal/shared/util"
	"greencheck-workspace/internal/usage"
)

const analyzeEndpoint = "/analyze"

var (
	// ErrBusy is returned when a run or export is already in flight for the
	// live job. The call has no effect.
	ErrBusy = errors.New("pipeline: operation already in progress")
	// ErrStale is returned when the job was reset or replaced while the
	// request was in flight. Its response was discarded.
	ErrStale = errors.New("pipeline: job replaced while request was in flight")
)

// API is the transport the pipeline calls.
type API interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Quota receives usage updates driven by analysis outcomes.
type Quota interface {
	Apply(s usage.Summary)
	Refresh(ctx context.Context) error
}

type noQuota struct{}

func (noQuota) Apply(usage.Summary)           {}
func (noQuota) Refresh(context.Context) error { return nil }

// Options configures endpoints and timing.
type Options struct {
	OCRPath              string
	OCRField             string
	ReportPath           string
	ReportMode           string
	ReportFilenameHeader string
	ReportFallbackName   string
	StepInterval         time.Duration
}

// OptionsFromConfig maps application config onto pipeline options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		OCRPath:              cfg.OCRPath,
		OCRField:             cfg.OCRField,
		ReportPath:           cfg.ReportPath,
		ReportMode:           cfg.ReportMode,
		ReportFilenameHeader: cfg.ReportFilenameHeader,
		ReportFallbackName:   cfg.ReportFallbackName,
		StepInterval:         cfg.ProgressStepInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.OCRPath == "" {
		o.OCRPath = "/ocr"
	}
	if o.OCRField == "" {
		o.OCRField = "file"
	}
	if o.ReportPath == "" {
		o.ReportPath = "/report"
	}
	if o.ReportMode == "" {
		o.ReportMode = config.ReportModeText
	}
	if o.ReportFilenameHeader == "" {
		o.ReportFilenameHeader = "X-LeafCheck-Filename"
	}
	if o.ReportFallbackName == "" {
		o.ReportFallbackName = "LeafCheck_Report.pdf"
	}
	if o.StepInterval <= 0 {
		o.StepInterval = 500 * time.Millisecond
	}
	return o
}

// Pipeline owns the single live UploadJob. Its mutex is never held across a
// network call; responses are applied only when the job generation and run
// token captured at start are still current.
type Pipeline struct {
	api   API
	quota Quota
	opts  Options

	mu        sync.Mutex
	job       job
	runToken  string
	runGen    string
	exporting bool
	onChange  func()
	onAuth    func()

	timeline progress.Timeline
}

// New constructs a Pipeline with an empty Idle job.
func New(api API, quota Quota, opts Options) *Pipeline {
	if quota == nil {
		quota = noQuota{}
	}
	return &Pipeline{api: api, quota: quota, opts: opts.withDefaults(), job: newJob(uuid.NewString())}
}

// OnChange registers a callback invoked after every state change, including
// progress steps. It is called without the pipeline lock held.
func (p *Pipeline) OnChange(fn func()) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// OnAuthFailure registers a callback invoked when a run observes an
// authentication failure. It runs before the change is announced through
// OnChange, without the pipeline lock held.
func (p *Pipeline) OnAuthFailure(fn func()) {
	p.mu.Lock()
	p.onAuth = fn
	p.mu.Unlock()
}

func (p *Pipeline) authFailed() {
	p.mu.Lock()
	fn := p.onAuth
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *Pipeline) notify() {
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Snapshot returns a copy of the live job.
func (p *Pipeline) Snapshot() Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() Job {
	j := Job{
		Generation:    p.job.generation,
		ExtractedText: p.job.extractedText,
		Analysis:      p.job.analysis,
		Status:        p.job.status,
		Error:         p.job.err,
		Progress:      p.job.progress,
		Running:       p.runningLocked(),
		Exporting:     p.exporting,
		LastReport:    p.job.lastReport,
	}
	j.Progress.Total = len(progress.Steps)
	if f := p.job.file; f != nil {
		j.File = &FileInfo{Name: f.Name, ContentType: f.ContentType, Size: f.Size()}
	}
	return j
}

func (p *Pipeline) runningLocked() bool {
	return p.runToken != "" && p.runGen == p.job.generation
}

// SelectFile starts a new job around file. No request is sent.
func (p *Pipeline) SelectFile(file apiclient.File) Job {
	p.timeline.Cancel()
	p.mu.Lock()
	p.job = newJob(uuid.NewString())
	p.job.file = &file
	snap := p.snapshotLocked()
	p.mu.Unlock()

	telemetry.Info("pipeline.file.selected", map[string]any{
		"generation":   snap.Generation,
		"content_type": file.ContentType,
		"size_bytes":   file.Size(),
	})
	p.notify()
	return snap
}

// SetText replaces the editable text of the live job. It returns false while
// a run is in flight. A Failed job returns to Idle.
func (p *Pipeline) SetText(text string) (Job, bool) {
	p.mu.Lock()
	if p.runningLocked() {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, false
	}
	p.job.extractedText = text
	if p.job.status == StatusFailed {
		p.job.status = StatusIdle
		p.job.err = nil
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify()
	return snap, true
}

// Reset discards the live job. Responses still in flight for it are dropped
// when they arrive.
func (p *Pipeline) Reset() Job {
	p.timeline.Cancel()
	p.mu.Lock()
	p.job = newJob(uuid.NewString())
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify()
	return snap
}

// RunAnalysis extracts text from the selected file when there is one, then
// analyzes it. Failures are classified *apperr.Error values and are also
// recorded on the job, which always ends in a terminal status.
func (p *Pipeline) RunAnalysis(ctx context.Context) (Job, error) {
	p.mu.Lock()
	if p.runningLocked() {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, ErrBusy
	}

	var file *apiclient.File
	if p.job.file != nil {
		f := *p.job.file
		file = &f
	}
	text := p.job.extractedText
	if file == nil && strings.TrimSpace(text) == "" {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, apperr.Validation(apperr.OpAnalyze, "Please upload an image or provide text to analyze.")
	}

	gen := p.job.generation
	token := uuid.NewString()
	p.runToken, p.runGen = token, gen
	p.job.analysis = nil
	p.job.err = nil
	p.job.progress = Progress{Active: true, Step: 0, Label: progress.Label(0)}
	if file != nil {
		p.job.status = StatusExtracting
	} else {
		p.job.status = StatusAnalyzing
	}
	p.mu.Unlock()

	p.timeline.Start(token, p.opts.StepInterval, p.advance)
	metrics.IncAnalysisStarted()
	start := time.Now()
	p.notify()

	if file != nil {
		extracted, err := p.extract(ctx, *file)
		if err != nil {
			return p.fail(gen, token, err)
		}
		if !p.applyExtracted(gen, token, extracted) {
			return p.stale(token)
		}
		text = extracted
	}

	if strings.TrimSpace(text) == "" {
		return p.fail(gen, token, &apperr.Error{Kind: apperr.KindServer, Op: apperr.OpExtract, Message: "No text was found in this file."})
	}

	telemetry.Info("pipeline.analyze.start", map[string]any{
		"generation": gen,
		"text_hash":  util.HashText(text),
		"chars":      len(text),
	})
	result, err := p.analyze(ctx, text)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.KindQuota && ae.Quota != nil {
			p.quota.Apply(*ae.Quota)
		}
		return p.fail(gen, token, err)
	}

	// The server counted this analysis whether or not the job is still live.
	var authErr *apperr.Error
	if err := p.quota.Refresh(ctx); err != nil {
		if ae := apperr.Classify(apperr.OpUsage, err); ae.Kind == apperr.KindAuth {
			authErr = ae
		}
	}

	p.mu.Lock()
	if p.runToken != token || p.job.generation != gen {
		p.mu.Unlock()
		snap, staleErr := p.stale(token)
		if authErr != nil {
			p.authFailed()
			return snap, authErr
		}
		return snap, staleErr
	}
	p.job.analysis = &result
	p.job.status = StatusCompleted
	p.job.progress = Progress{Active: false, Step: progress.Last, Label: progress.Label(progress.Last)}
	p.runToken = ""
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.timeline.CancelToken(token)

	elapsed := time.Since(start)
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(float64(elapsed.Milliseconds()))
	telemetry.Info("pipeline.analyze.complete", map[string]any{
		"generation":  gen,
		"score":       result.Score,
		"risk_level":  string(result.Level),
		"duration_ms": elapsed.Milliseconds(),
	})
	if authErr != nil {
		p.authFailed()
		p.notify()
		return snap, authErr
	}
	p.notify()
	return snap, nil
}

func (p *Pipeline) extract(ctx context.Context, file apiclient.File) (string, error) {
	resp, err := p.api.Do(ctx, apiclient.Request{
		Name:     "extract",
		Method:   http.MethodPost,
		Endpoint: p.opts.OCRPath,
		Body:     apiclient.MultipartBody(p.opts.OCRField, file),
	})
	if err != nil {
		return "", apperr.Classify(apperr.OpExtract, err)
	}
	var out struct {
		Text        string    `json:"text"`
		Confidences []float64 `json:"confidences"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", apperr.Classify(apperr.OpExtract, err)
	}
	return out.Text, nil
}

func (p *Pipeline) applyExtracted(gen, token, text string) bool {
	p.mu.Lock()
	if p.runToken != token || p.job.generation != gen {
		p.mu.Unlock()
		return false
	}
	p.job.extractedText = text
	p.job.status = StatusAnalyzing
	p.mu.Unlock()
	p.notify()
	return true
}

func (p *Pipeline) analyze(ctx context.Context, text string) (analysis.Result, error) {
	resp, err := p.api.Do(ctx, apiclient.Request{
		Name:     "analyze",
		Method:   http.MethodPost,
		Endpoint: analyzeEndpoint,
		Body:     apiclient.JSONBody(map[string]string{"text": text}),
	})
	if err != nil {
		return analysis.Result{}, apperr.Classify(apperr.OpAnalyze, err)
	}
	if resp.NoContent || len(resp.JSON) == 0 {
		return analysis.Result{}, apperr.Classify(apperr.OpAnalyze, fmt.Errorf("%w: empty analysis", apiclient.ErrMalformedResponse))
	}
	result, err := analysis.Decode(resp.JSON)
	if err != nil {
		return analysis.Result{}, apperr.Classify(apperr.OpAnalyze, err)
	}
	return result, nil
}

// fail records err on the job when the run is still current. A stale run
// only surfaces authentication failures, which apply to the session rather
// than the job.
func (p *Pipeline) fail(gen, token string, err error) (Job, error) {
	ae := apperr.Classify(apperr.OpAnalyze, err)

	p.mu.Lock()
	if p.runToken != token || p.job.generation != gen {
		p.mu.Unlock()
		snap, staleErr := p.stale(token)
		if ae.Kind == apperr.KindAuth {
			p.authFailed()
			return snap, ae
		}
		return snap, staleErr
	}
	p.job.status = StatusFailed
	p.job.err = ae
	p.job.analysis = nil
	p.job.progress = Progress{}
	p.runToken = ""
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.timeline.CancelToken(token)

	metrics.IncAnalysisFailed(string(ae.Kind))
	telemetry.Warn("pipeline.analyze.failed", map[string]any{
		"generation": gen,
		"kind":       string(ae.Kind),
		"op":         string(ae.Op),
		"status":     ae.Status,
		"error":      ae.Err,
	})
	if ae.Kind == apperr.KindAuth {
		p.authFailed()
	}
	p.notify()
	return snap, ae
}

func (p *Pipeline) stale(token string) (Job, error) {
	p.mu.Lock()
	if p.runToken == token {
		p.runToken = ""
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	metrics.IncStaleResponse()
	telemetry.Info("pipeline.response.discarded", map[string]any{"run": token})
	return snap, ErrStale
}

// advance applies one cosmetic step. The real status always wins: a step
// never moves the indicator backwards and never revives a finished run.
func (p *Pipeline) advance(token string, step int) {
	p.mu.Lock()
	if p.runToken != token || p.runGen != p.job.generation {
		p.mu.Unlock()
		return
	}
	switch {
	case p.job.status.InProgress():
		if step <= p.job.progress.Step && p.job.progress.Active {
			p.mu.Unlock()
			return
		}
		p.job.progress = Progress{Active: true, Step: step, Label: progress.Label(step)}
	case p.job.status == StatusCompleted:
		p.job.progress = Progress{Step: progress.Last, Label: progress.Label(progress.Last)}
	default:
		p.job.progress = Progress{}
	}
	p.mu.Unlock()
	p.notify()
}

// ExportReport asks the backend to render the current analysis as a PDF.
// Failures leave the analysis and status untouched.
func (p *Pipeline) ExportReport(ctx context.Context) (report.Report, error) {
	p.mu.Lock()
	if p.job.analysis == nil {
		p.mu.Unlock()
		return report.Report{}, apperr.Validation(apperr.OpReport, "Run an analysis before exporting a report.")
	}
	if p.exporting {
		p.mu.Unlock()
		return report.Report{}, ErrBusy
	}
	p.exporting = true
	gen := p.job.generation
	text := p.job.extractedText
	payload := p.job.analysis.Payload
	var file *apiclient.File
	if p.job.file != nil {
		f := *p.job.file
		file = &f
	}
	p.mu.Unlock()
	p.notify()

	defer func() {
		p.mu.Lock()
		p.exporting = false
		p.mu.Unlock()
		p.notify()
	}()

	var body apiclient.Body
	if p.opts.ReportMode == config.ReportModeFile && file != nil {
		body = apiclient.MultipartBody("file", *file)
	} else {
		body = apiclient.JSONBody(struct {
			Text     string          `json:"text"`
			Analysis json.RawMessage `json:"analysis"`
		}{Text: text, Analysis: payload})
	}

	resp, err := p.api.Do(ctx, apiclient.Request{
		Name:     "report",
		Method:   http.MethodPost,
		Endpoint: p.opts.ReportPath,
		Body:     body,
		Header:   http.Header{"Accept": []string{"application/pdf"}},
	})
	if err != nil {
		ae := apperr.Classify(apperr.OpReport, err)
		telemetry.Warn("pipeline.report.failed", map[string]any{"generation": gen, "kind": string(ae.Kind), "error": ae.Err})
		if ae.Kind == apperr.KindAuth {
			p.authFailed()
		}
		return report.Report{}, ae
	}
	rep, err := report.FromResponse(resp, p.opts.ReportFilenameHeader, p.opts.ReportFallbackName)
	if err != nil {
		return report.Report{}, apperr.Classify(apperr.OpReport, err)
	}

	p.mu.Lock()
	if p.job.generation == gen {
		meta := rep
		meta.Data = nil
		p.job.lastReport = &meta
	}
	p.mu.Unlock()

	telemetry.Info("pipeline.report.ready", map[string]any{"generation": gen, "filename": rep.Filename, "pages": rep.Pages})
	return rep, nil
}
