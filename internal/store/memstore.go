package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for tests and single-process development.
// Safe for concurrent use. Data does not survive a restart.
type MemStore struct {
	mu             sync.RWMutex
	users          []*User
	sessions       map[uuid.UUID]*ProcessingSession
	transcriptions []*Transcription
	summaries      []*Summary
	attempts       []*ProviderAttempt
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[uuid.UUID]*ProcessingSession)}
}

func (m *MemStore) Users() Users                   { return (*memUsers)(m) }
func (m *MemStore) Sessions() Sessions             { return (*memSessions)(m) }
func (m *MemStore) Transcriptions() Transcriptions { return (*memTranscriptions)(m) }
func (m *MemStore) Summaries() Summaries           { return (*memSummaries)(m) }
func (m *MemStore) Usage() Usage                   { return (*memUsage)(m) }

// Attempts returns a copy of the usage log, for assertions in tests.
func (m *MemStore) Attempts() []*ProviderAttempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ProviderAttempt, len(m.attempts))
	copy(out, m.attempts)
	return out
}

type memUsers MemStore

func (m *memUsers) GetOrCreate(_ context.Context, platform, platformUserID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u := m.findLocked(platform, platformUserID); u != nil {
		cp := *u
		return &cp, nil
	}
	u := &User{
		ID:             uuid.New(),
		Platform:       platform,
		PlatformUserID: platformUserID,
		CreatedAt:      time.Now().UTC(),
	}
	m.users = append(m.users, u)
	cp := *u
	return &cp, nil
}

func (m *memUsers) Get(_ context.Context, platform, platformUserID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u := m.findLocked(platform, platformUserID); u != nil {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUsers) SetPreferences(_ context.Context, id uuid.UUID, language, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u.Language = language
			u.Model = model
			return nil
		}
	}
	return nil
}

func (m *memUsers) findLocked(platform, platformUserID string) *User {
	for _, u := range m.users {
		if u.Platform == platform && u.PlatformUserID == platformUserID {
			return u
		}
	}
	return nil
}

type memSessions MemStore

func (m *memSessions) Create(_ context.Context, s *ProcessingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StatusReceived
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) Get(_ context.Context, id uuid.UUID) (*ProcessingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Advance(_ context.Context, id uuid.UUID, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || status.rank() <= s.Status.rank() {
		return nil
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memSessions) SetFileHash(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.FileHash = hash
		s.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *memSessions) Complete(_ context.Context, id, transcriptionID uuid.UUID, elapsed time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || StatusDone.rank() <= s.Status.rank() {
		return nil
	}
	now := time.Now().UTC()
	s.Status = StatusDone
	s.TranscriptionID = transcriptionID
	s.Duration = elapsed
	s.CompletedAt = now
	s.UpdatedAt = now
	return nil
}

func (m *memSessions) Fail(_ context.Context, id uuid.UUID, stage, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || StatusFailed.rank() <= s.Status.rank() {
		return nil
	}
	now := time.Now().UTC()
	s.Status = StatusFailed
	s.FailureStage = stage
	s.Error = reason
	s.CompletedAt = now
	s.UpdatedAt = now
	return nil
}

type memTranscriptions MemStore

func (m *memTranscriptions) Save(_ context.Context, t *Transcription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	m.transcriptions = append(m.transcriptions, &cp)
	return nil
}

func (m *memTranscriptions) FindByFileHash(_ context.Context, hash, language string) (*Transcription, error) {
	if hash == "" {
		return nil, nil
	}
	return m.findNewest(func(t *Transcription) bool { return t.FileHash == hash }, language), nil
}

func (m *memTranscriptions) FindBySourceKey(_ context.Context, key, language string) (*Transcription, error) {
	if key == "" {
		return nil, nil
	}
	return m.findNewest(func(t *Transcription) bool { return t.SourceKey == key }, language), nil
}

func (m *memTranscriptions) findNewest(match func(*Transcription) bool, language string) *Transcription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *Transcription
	for _, t := range m.transcriptions {
		if !match(t) {
			continue
		}
		if language != "" && t.Language != language {
			continue
		}
		if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
			newest = t
		}
	}
	if newest == nil {
		return nil
	}
	cp := *newest
	return &cp
}

type memSummaries MemStore

func (m *memSummaries) Save(_ context.Context, s *Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.summaries {
		if existing.TranscriptionID == s.TranscriptionID &&
			existing.Language == s.Language &&
			existing.Model == s.Model &&
			existing.PromptHash == s.PromptHash {
			return nil
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Created.IsZero() {
		s.Created = time.Now().UTC()
	}
	cp := *s
	m.summaries = append(m.summaries, &cp)
	return nil
}

func (m *memSummaries) Find(_ context.Context, transcriptionID uuid.UUID, language, model, promptHash string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.summaries {
		if s.TranscriptionID == transcriptionID &&
			s.Language == language &&
			s.Model == model &&
			s.PromptHash == promptHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

type memUsage MemStore

func (m *memUsage) Record(_ context.Context, a *ProviderAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	m.attempts = append(m.attempts, &cp)
	return nil
}
