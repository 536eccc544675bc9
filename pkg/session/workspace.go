// Package session holds the redaction state for a workspace of images: one
// session per image, its detections and selection flags, analysis status,
// and the generation tokens that keep stale analysis results out.
package session

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/menta2k/pii-redactor/pkg/types"
)

// Status is the analysis state of one session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusAnalyzing Status = "analyzing"
	StatusError     Status = "error"
)

// DefaultMaxBatch caps how many images one workspace accepts.
const DefaultMaxBatch = 12

// ErrBatchLimit is reported at the workspace level when an upload would
// exceed the batch cap; no session exists yet for the rejected files.
var ErrBatchLimit = errors.New("workspace batch limit exceeded")

// Item is one image handed to the workspace. Release, if set, frees any
// transient resource backing the image (temp file, mapped buffer); the
// workspace guarantees it runs exactly once, on whichever removal path
// fires first.
type Item struct {
	FileName string
	Image    image.Image
	Release  func()
}

type imageSession struct {
	id          string
	fileName    string
	img         image.Image
	detections  []types.Detection
	status      Status
	lastError   string
	generation  uint64
	release     func()
	releaseOnce sync.Once
}

func (s *imageSession) free() {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// View is a point-in-time snapshot of one session.
type View struct {
	ID         string
	FileName   string
	Image      image.Image
	Detections []types.Detection
	Status     Status
	LastError  string
}

// CategoryGroup is a derived view over the active session's detections
// sharing one label. Aggregate state is recomputed on every call, never
// cached.
type CategoryGroup struct {
	Label         string
	Detections    []types.Detection
	SelectedCount int
	Total         int
}

// AllSelected reports whether every member of the group is selected.
func (g CategoryGroup) AllSelected() bool {
	return g.Total > 0 && g.SelectedCount == g.Total
}

// Workspace is the redaction state store. Exactly one session is active at
// a time; selection operations and category grouping act on it.
type Workspace struct {
	mu       sync.Mutex
	sessions []*imageSession
	activeID string
	maxBatch int
}

// NewWorkspace creates an empty workspace. maxBatch <= 0 uses the default
// cap.
func NewWorkspace(maxBatch int) *Workspace {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Workspace{maxBatch: maxBatch}
}

// AddSessions ingests images as new sessions, in order. The first added
// session of an empty workspace becomes active. If the batch cap would be
// exceeded, nothing is added.
func (w *Workspace) AddSessions(items ...Item) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.sessions)+len(items) > w.maxBatch {
		return nil, ErrBatchLimit
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		s := &imageSession{
			id:       uuid.NewString(),
			fileName: item.FileName,
			img:      item.Image,
			status:   StatusIdle,
			release:  item.Release,
		}
		w.sessions = append(w.sessions, s)
		ids = append(ids, s.id)
	}
	if w.activeID == "" && len(w.sessions) > 0 {
		w.activeID = w.sessions[0].id
	}
	return ids, nil
}

// RemoveSession drops a session and releases its resources. Removing the
// active session promotes the first remaining session.
func (w *Workspace) RemoveSession(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, s := range w.sessions {
		if s.id != id {
			continue
		}
		s.free()
		w.sessions = append(w.sessions[:i], w.sessions[i+1:]...)
		if w.activeID == id {
			w.activeID = ""
			if len(w.sessions) > 0 {
				w.activeID = w.sessions[0].id
			}
		}
		return true
	}
	return false
}

// Clear removes every session, releasing all resources.
func (w *Workspace) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range w.sessions {
		s.free()
	}
	w.sessions = nil
	w.activeID = ""
}

// SetActive switches the active session.
func (w *Workspace) SetActive(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range w.sessions {
		if s.id == id {
			w.activeID = id
			return nil
		}
	}
	return fmt.Errorf("no session %s", id)
}

// ActiveID returns the active session id, or empty if none.
func (w *Workspace) ActiveID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeID
}

// Session returns a snapshot of one session.
func (w *Workspace) Session(id string) (View, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.find(id)
	if s == nil {
		return View{}, false
	}
	return snapshot(s), true
}

// ActiveSession returns a snapshot of the active session.
func (w *Workspace) ActiveSession() (View, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.find(w.activeID)
	if s == nil {
		return View{}, false
	}
	return snapshot(s), true
}

// Sessions returns snapshots of all sessions in insertion order.
func (w *Workspace) Sessions() []View {
	w.mu.Lock()
	defer w.mu.Unlock()

	views := make([]View, 0, len(w.sessions))
	for _, s := range w.sessions {
		views = append(views, snapshot(s))
	}
	return views
}

// ReplaceImage swaps a session's image for a new one. The old resource is
// released, prior detections are dropped, and the generation advances so
// any in-flight analysis for the old image is discarded on arrival.
func (w *Workspace) ReplaceImage(id string, item Item) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.find(id)
	if s == nil {
		return fmt.Errorf("no session %s", id)
	}

	s.free()
	s.releaseOnce = sync.Once{}
	s.release = item.Release
	s.img = item.Image
	if item.FileName != "" {
		s.fileName = item.FileName
	}
	s.detections = nil
	s.status = StatusIdle
	s.lastError = ""
	s.generation++
	return nil
}

// BeginAnalysis marks a session as analyzing and returns a snapshot of the
// session together with the generation token that a completion must present
// to be applied. Snapshot and token are taken under one lock hold, so the
// token always belongs to the image in the snapshot.
func (w *Workspace) BeginAnalysis(id string) (View, uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.find(id)
	if s == nil {
		return View{}, 0, fmt.Errorf("no session %s", id)
	}
	s.status = StatusAnalyzing
	s.lastError = ""
	return snapshot(s), s.generation, nil
}

// IngestResults replaces the session's detection list wholesale and sets
// status to idle. Results carrying a stale generation are discarded; the
// return value reports whether the results were applied.
func (w *Workspace) IngestResults(id string, gen uint64, detections []types.Detection) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.find(id)
	if s == nil || s.generation != gen {
		return false
	}
	s.detections = append([]types.Detection(nil), detections...)
	s.status = StatusIdle
	s.lastError = ""
	return true
}

// FailAnalysis records a failed analysis on the session, keeping sibling
// sessions untouched. Stale failures are discarded like stale results.
func (w *Workspace) FailAnalysis(id string, gen uint64, err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.find(id)
	if s == nil || s.generation != gen {
		return false
	}
	s.status = StatusError
	s.lastError = types.UserMessage(err)
	return true
}

// ToggleDetection flips a single detection's selected flag in the active
// session.
func (w *Workspace) ToggleDetection(detectionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.find(w.activeID)
	if s == nil {
		return false
	}
	for i := range s.detections {
		if s.detections[i].ID == detectionID {
			s.detections[i].Selected = !s.detections[i].Selected
			return true
		}
	}
	return false
}

// ToggleCategory sets the selected flag for every detection in the active
// session with the given label. It returns how many detections matched.
func (w *Workspace) ToggleCategory(label string, shouldSelect bool) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.find(w.activeID)
	if s == nil {
		return 0
	}
	n := 0
	for i := range s.detections {
		if s.detections[i].Label == label {
			s.detections[i].Selected = shouldSelect
			n++
		}
	}
	return n
}

// GroupByCategory groups the active session's detections by label, sorted
// lexicographically. Counts are derived from current state on every call.
func (w *Workspace) GroupByCategory() []CategoryGroup {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.find(w.activeID)
	if s == nil {
		return nil
	}

	byLabel := make(map[string]*CategoryGroup)
	labels := make([]string, 0)
	for _, d := range s.detections {
		g, ok := byLabel[d.Label]
		if !ok {
			g = &CategoryGroup{Label: d.Label}
			byLabel[d.Label] = g
			labels = append(labels, d.Label)
		}
		g.Detections = append(g.Detections, d)
		g.Total++
		if d.Selected {
			g.SelectedCount++
		}
	}
	sort.Strings(labels)

	groups := make([]CategoryGroup, 0, len(labels))
	for _, label := range labels {
		groups = append(groups, *byLabel[label])
	}
	return groups
}

func (w *Workspace) find(id string) *imageSession {
	if id == "" {
		return nil
	}
	for _, s := range w.sessions {
		if s.id == id {
			return s
		}
	}
	return nil
}

func snapshot(s *imageSession) View {
	return View{
		ID:         s.id,
		FileName:   s.fileName,
		Image:      s.img,
		Detections: append([]types.Detection(nil), s.detections...),
		Status:     s.status,
		LastError:  s.lastError,
	}
}
