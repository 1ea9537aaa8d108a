// Package session holds per-chat conversational state. Sessions are
// transient by design: they live in memory only, are overwritten on every
// step transition, and are dropped on completion, cancellation, or any
// detected inconsistency. Exactly one session exists per chat at a time.
package session

import (
	"sync"
	"time"
)

// Step identifies the input a chat is expected to produce next.
type Step string

// Admin wizard steps.
const (
	StepOrderType Step = "order_type" // install / repair buttons
	StepLogistics Step = "logistics"  // visit / come buttons
	StepAddress   Step = "address"    // free text, visit only
	StepPhone     Step = "phone"      // free text
	StepDevices   Step = "devices"    // toggle device kinds
	StepQuantity  Step = "quantity"   // per-kind count buttons
	StepComment   Step = "comment"    // free text or skip
	StepMaster    Step = "master"     // pick master button
)

// Admin post-dispatch steps.
const (
	StepAdminDay    Step = "admin_day"    // counter-proposal calendar
	StepAdminHour   Step = "admin_hour"   // counter-proposal hour grid
	StepCloseLabor  Step = "close_labor"  // labor minutes on close, or skip
	StepReportRange Step = "report_range" // custom date range text
)

// Master steps.
const (
	StepMasterDay  Step = "master_day"  // accept-flow calendar
	StepMasterHour Step = "master_hour" // accept-flow hour grid
	StepEvidence   Step = "evidence"    // awaiting photo for current slot
)

// Session is the transient FSM state for one chat.
type Session struct {
	ChatID    int64
	Step      Step
	Draft     map[string]string
	UpdatedAt time.Time
}

// Get returns a draft value, or "" when absent.
func (s *Session) Get(key string) string {
	if s == nil || s.Draft == nil {
		return ""
	}
	return s.Draft[key]
}

// Store keeps at most one session per chat, last write wins. Events for a
// single chat are processed sequentially, so the lock only guards against
// cross-chat interleaving.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Begin creates or overwrites the chat's session.
func (st *Store) Begin(chatID int64, step Step, draft map[string]string) *Session {
	if draft == nil {
		draft = make(map[string]string)
	}
	s := &Session{ChatID: chatID, Step: step, Draft: draft, UpdatedAt: time.Now()}
	st.mu.Lock()
	st.sessions[chatID] = s
	st.mu.Unlock()
	return s
}

// Advance merges patch into the existing draft and rewrites the step. A chat
// with no prior session gets a fresh one, which callers treat as a restart.
func (st *Store) Advance(chatID int64, step Step, patch map[string]string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[chatID]
	if !ok {
		s = &Session{ChatID: chatID, Draft: make(map[string]string)}
		st.sessions[chatID] = s
	}
	for k, v := range patch {
		s.Draft[k] = v
	}
	s.Step = step
	s.UpdatedAt = time.Now()
	return s
}

// Resolve returns the chat's current session, or nil when none exists
// (callers show the top-level menu).
func (st *Store) Resolve(chatID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[chatID]
}

// Clear drops the chat's session.
func (st *Store) Clear(chatID int64) {
	st.mu.Lock()
	delete(st.sessions, chatID)
	st.mu.Unlock()
}

// Expect reports whether the chat currently awaits the given step. A nil or
// mismatched session means the inbound event is stale.
func (st *Store) Expect(chatID int64, step Step) bool {
	s := st.Resolve(chatID)
	return s != nil && s.Step == step
}
