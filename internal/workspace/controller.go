// Package workspace composes the session, quota mirror, upload pipeline and
// view router behind one observable AppState per browser workspace.
package workspace

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/apperr"
	"greencheck-workspace/internal/pipeline"
	"greencheck-workspace/internal/report"
	"greencheck-workspace/internal/session"
	"greencheck-workspace/internal/shared/telemetry"
	"greencheck-workspace/internal/usage"
	"greencheck-workspace/internal/view"
)

// Client is the backend transport one workspace talks through. Each
// workspace owns its own cookie jar.
type Client interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
	ClearCookies()
}

// AppState is everything the console renders.
type AppState struct {
	WorkspaceID   string          `json:"workspace_id"`
	Revision      uint64          `json:"revision"`
	Session       session.Session `json:"session"`
	Job           pipeline.Job    `json:"job"`
	Usage         *usage.Summary  `json:"usage,omitempty"`
	Banner        usage.Banner    `json:"banner"`
	Fragment      string          `json:"fragment"`
	View          view.View       `json:"view"`
	Notice        *apperr.Error   `json:"notice,omitempty"`
	History       []usage.Log     `json:"history,omitempty"`
	HistoryLoaded bool            `json:"history_loaded"`
}

// Controller serializes state application for one workspace. Its mutex is
// never held across a network call.
type Controller struct {
	id       string
	session  *session.Manager
	mirror   *usage.Mirror
	pipeline *pipeline.Pipeline
	reports  *report.Store

	mu            sync.Mutex
	revision      uint64
	fragment      string
	notice        *apperr.Error
	history       []usage.Log
	historyLoaded bool
	subs          map[int]chan AppState
	nextSub       int
	closed        bool
}

// New builds a Controller. reports may be nil, in which case exported
// reports are not kept on disk.
func New(id string, client Client, opts pipeline.Options, reports *report.Store) *Controller {
	mirror := usage.NewMirror(client)
	c := &Controller{
		id:       id,
		session:  session.NewManager(client),
		mirror:   mirror,
		pipeline: pipeline.New(client, mirror, opts),
		reports:  reports,
		subs:     make(map[int]chan AppState),
	}
	c.pipeline.OnChange(c.publish)
	c.pipeline.OnAuthFailure(c.signOut)
	return c
}

// ID returns the workspace id.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current AppState.
func (c *Controller) State() AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// stateLocked snapshots collaborators under c.mu so revisions and snapshots
// are ordered the same way. Collaborator locks are always taken after c.mu.
func (c *Controller) stateLocked() AppState {
	s := c.session.State()
	job := c.pipeline.Snapshot()
	summary := c.mirror.Summary()
	st := AppState{
		WorkspaceID:   c.id,
		Revision:      c.revision,
		Session:       s,
		Job:           job,
		Usage:         summary,
		Banner:        usage.RenderBanner(summary),
		Fragment:      c.fragment,
		View:          view.ForJob(s, job, c.fragment),
		Notice:        c.notice,
		HistoryLoaded: c.historyLoaded,
	}
	if c.history != nil {
		st.History = append([]usage.Log(nil), c.history...)
	}
	return st
}

// Subscribe returns a channel that always holds the latest AppState. Slow
// readers skip intermediate revisions. cancel releases the subscription.
func (c *Controller) Subscribe() (<-chan AppState, func()) {
	ch := make(chan AppState, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.stateLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
			c.mu.Unlock()
		})
	}
}

// Close drops subscribers and stops pending progress timers.
func (c *Controller) Close() {
	c.pipeline.OnChange(nil)
	c.pipeline.OnAuthFailure(nil)
	c.pipeline.Reset()
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
}

func (c *Controller) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked()
}

func (c *Controller) publishLocked() AppState {
	c.revision++
	st := c.stateLocked()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
	return st
}

// signOut drops everything tied to the signed-in user. The live job stays.
func (c *Controller) signOut() {
	c.session.Reset()
	c.mirror.Clear()
	c.mu.Lock()
	c.history, c.historyLoaded = nil, false
	c.mu.Unlock()
}

// refreshQuota refreshes the mirror and reports an expired session.
func (c *Controller) refreshQuota(ctx context.Context) *apperr.Error {
	err := c.mirror.Refresh(ctx)
	if err == nil {
		return nil
	}
	if ae := apperr.Classify(apperr.OpUsage, err); ae.Kind == apperr.KindAuth {
		return ae
	}
	return nil
}

// apply ends every operation: it records the outcome as the notice and
// publishes one new revision. An AuthError signs the workspace out in the
// same step.
func (c *Controller) apply(err error) AppState {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindAuth {
		c.signOut()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case ae != nil:
		c.notice = ae
	case err == nil:
		c.notice = nil
	}
	return c.publishLocked()
}

// Init hydrates the session from the cookie and, when signed in, the quota
// mirror.
func (c *Controller) Init(ctx context.Context) AppState {
	s := c.session.FetchCurrentUser(ctx)
	if s.IsAuthenticated() {
		if ae := c.refreshQuota(ctx); ae != nil {
			c.signOut()
		}
	}
	return c.apply(nil)
}

// Login signs in. On success an open auth modal closes.
func (c *Controller) Login(ctx context.Context, email, password string) (AppState, error) {
	s, err := c.session.Login(ctx, email, password)
	return c.afterSignIn(ctx, s, err)
}

// Register creates an account and signs in with it.
func (c *Controller) Register(ctx context.Context, email, password string) (AppState, error) {
	s, err := c.session.Register(ctx, email, password)
	return c.afterSignIn(ctx, s, err)
}

func (c *Controller) afterSignIn(ctx context.Context, s session.Session, err error) (AppState, error) {
	if err != nil {
		return c.apply(err), err
	}
	if s.IsAuthenticated() {
		if ae := c.refreshQuota(ctx); ae != nil {
			return c.apply(ae), ae
		}
		c.mu.Lock()
		if frag := view.NormalizeFragment(c.fragment); frag == "login" || frag == "register" {
			c.fragment = ""
		}
		c.mu.Unlock()
	}
	return c.apply(nil), nil
}

// Logout signs out. The live job is kept; session and job are independent.
func (c *Controller) Logout(ctx context.Context) AppState {
	c.session.Logout(ctx)
	c.mirror.Clear()
	c.mu.Lock()
	c.history, c.historyLoaded = nil, false
	c.fragment = ""
	c.mu.Unlock()
	return c.apply(nil)
}

// CompleteOnboarding submits the company profile.
func (c *Controller) CompleteOnboarding(ctx context.Context, fields session.Onboarding) (AppState, error) {
	_, err := c.session.CompleteOnboarding(ctx, fields)
	return c.apply(err), err
}

// SelectFile starts a new job around file.
func (c *Controller) SelectFile(file apiclient.File) AppState {
	c.pipeline.SelectFile(file)
	return c.apply(nil)
}

// SetText edits the job text. It returns pipeline.ErrBusy while a run is in
// flight.
func (c *Controller) SetText(text string) (AppState, error) {
	if _, ok := c.pipeline.SetText(text); !ok {
		return c.State(), pipeline.ErrBusy
	}
	return c.apply(nil), nil
}

// RunAnalysis runs the live job to a terminal status. Busy and stale
// outcomes leave the notice alone.
func (c *Controller) RunAnalysis(ctx context.Context) (AppState, error) {
	_, err := c.pipeline.RunAnalysis(ctx)
	if errors.Is(err, pipeline.ErrBusy) || errors.Is(err, pipeline.ErrStale) {
		return c.State(), err
	}
	return c.apply(err), err
}

// ExportReport renders the current analysis as a PDF. When a report store
// is configured the file is also kept on disk.
func (c *Controller) ExportReport(ctx context.Context) (report.Report, AppState, error) {
	rep, err := c.pipeline.ExportReport(ctx)
	if errors.Is(err, pipeline.ErrBusy) {
		return report.Report{}, c.State(), err
	}
	if err != nil {
		return report.Report{}, c.apply(err), err
	}
	if c.reports != nil {
		obj, saveErr := c.reports.Save(ctx, c.id, rep)
		if saveErr != nil {
			telemetry.Warn("workspace.report.save_failed", map[string]any{"workspace_id": c.id, "error": saveErr})
		} else {
			telemetry.Info("workspace.report.saved", map[string]any{"workspace_id": c.id, "key": obj.Key, "size_bytes": obj.Size})
		}
	}
	return rep, c.apply(nil), nil
}

// Reset discards the live job.
func (c *Controller) Reset() AppState {
	c.pipeline.Reset()
	return c.apply(nil)
}

// Navigate records the URL fragment. Opening the history view loads the
// history the first time.
func (c *Controller) Navigate(ctx context.Context, fragment string) AppState {
	c.mu.Lock()
	c.fragment = view.NormalizeFragment(fragment)
	loaded := c.historyLoaded
	c.mu.Unlock()

	s := c.session.State()
	if view.ForJob(s, c.pipeline.Snapshot(), fragment).State == view.History && !loaded {
		st, _ := c.LoadHistory(ctx)
		return st
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publishLocked()
}

// LoadHistory fetches the signed-in user's past analyses.
func (c *Controller) LoadHistory(ctx context.Context) (AppState, error) {
	if !c.session.State().IsAuthenticated() {
		err := &apperr.Error{Kind: apperr.KindAuth, Op: apperr.OpHistory, Status: http.StatusUnauthorized, Message: "Please sign in to see your history."}
		return c.apply(err), err
	}
	logs, err := c.mirror.History(ctx)
	if err != nil {
		ae := apperr.Classify(apperr.OpHistory, err)
		return c.apply(ae), ae
	}
	c.mu.Lock()
	c.history, c.historyLoaded = logs, true
	c.mu.Unlock()
	return c.apply(nil), nil
}

// LoadHistoryEntry fetches one past analysis of the signed-in user.
func (c *Controller) LoadHistoryEntry(ctx context.Context, id string) (usage.Log, AppState, error) {
	if !c.session.State().IsAuthenticated() {
		err := &apperr.Error{Kind: apperr.KindAuth, Op: apperr.OpHistory, Status: http.StatusUnauthorized, Message: "Please sign in to see your history."}
		return usage.Log{}, c.apply(err), err
	}
	entry, err := c.mirror.HistoryEntry(ctx, id)
	if errors.Is(err, usage.ErrInvalidLogID) {
		ae := apperr.Validation(apperr.OpHistory, "Unknown history entry.")
		return usage.Log{}, c.apply(ae), ae
	}
	if err != nil {
		ae := apperr.Classify(apperr.OpHistory, err)
		return usage.Log{}, c.apply(ae), ae
	}
	return entry, c.apply(nil), nil
}
