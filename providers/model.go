package providers

import (
	"sort"
	"sync"
)

// VerificationState tracks whether a model's context window has been
// empirically confirmed
type VerificationState string

const (
	VerificationUnverified VerificationState = "unverified"
	VerificationVerified   VerificationState = "verified"
	VerificationFailed     VerificationState = "failed"
)

// Model is one provider-native model with its declared and detected limits.
// Blacklisting is a field on the model, not a parallel collection, so there
// is exactly one authoritative status per model.
type Model struct {
	ID                string
	DeclaredMaxTokens int
	DetectedMaxTokens int
	Verification      VerificationState
	Blacklisted       bool
	BlacklistReason   string
}

// ModelTable holds the models of one provider. Mutations happen under the
// table's lock; reads return copies.
type ModelTable struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewModelTable builds a table from declared models
func NewModelTable(models []Model) *ModelTable {
	t := &ModelTable{models: make(map[string]*Model, len(models))}
	for i := range models {
		m := models[i]
		if m.Verification == "" {
			m.Verification = VerificationUnverified
		}
		t.models[m.ID] = &m
	}
	return t
}

// Get returns a copy of the model record
func (t *ModelTable) Get(id string) (Model, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.models[id]
	if !ok {
		return Model{}, false
	}
	return *m, true
}

// List returns copies of all models, sorted by id
func (t *ModelTable) List() []Model {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Model, 0, len(t.models))
	for _, m := range t.models {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetDetectedLimit records an empirically discovered context window
func (t *ModelTable) SetDetectedLimit(id string, limit int, state VerificationState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.models[id]
	if !ok {
		return
	}
	m.DetectedMaxTokens = limit
	m.Verification = state
}

// Blacklist marks a model as unusable with a reason
func (t *ModelTable) Blacklist(id, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.models[id]; ok {
		m.Blacklisted = true
		m.BlacklistReason = reason
	}
}

// Restore clears a model's blacklist flag
func (t *ModelTable) Restore(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.models[id]; ok {
		m.Blacklisted = false
		m.BlacklistReason = ""
	}
}
