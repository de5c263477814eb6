package mapping

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veilware/textveil/internal/entity"
	"github.com/veilware/textveil/internal/logger"
)

// Session holds the mappings and per-type counters for one session id. All
// mutation goes through its mutex: the counter increment and entry insert
// are one critical section, so a check-then-create race between concurrent
// batch items cannot hand out two placeholders for one key.
type Session struct {
	id       string
	mu       sync.Mutex
	entries  map[Key]*Entry
	counters map[entity.Type]int
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// GetOrCreate returns the placeholder for key, assigning a fresh one when
// the key is unknown. original is the first-seen surface form, kept for the
// export payload. For PERSON, LOCATION, and ORGANIZATION keys the session's
// containment rule applies first: an unambiguous single-token short form of
// an already-mapped multi-token mention resolves to that mention's key.
func (s *Session) GetOrCreate(key Key, original string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := s.resolveContainment(key)
	if e, ok := s.entries[resolved]; ok {
		return e.Placeholder
	}

	s.counters[key.Type]++
	placeholder := fmt.Sprintf("%s_%d", key.Type, s.counters[key.Type])
	s.entries[resolved] = &Entry{
		Key:          resolved,
		CanonicalKey: resolved.String(),
		Placeholder:  placeholder,
		Original:     original,
		EntityType:   string(resolved.Type),
	}
	return placeholder
}

// Lookup returns the existing placeholder for key without creating one.
func (s *Session) Lookup(key Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[s.resolveContainment(key)]; ok {
		return e.Placeholder, true
	}
	return "", false
}

// resolveContainment maps a single-token name mention onto an existing
// multi-token key of the same type when exactly one such key starts or ends
// with that token ("Max" after "Max Müller"). Ambiguous short forms keep
// their own key; no proximity or context disambiguation is attempted.
// Callers must hold s.mu.
func (s *Session) resolveContainment(key Key) Key {
	switch key.Type {
	case entity.Person, entity.Location, entity.Organization:
	default:
		return key
	}
	if strings.ContainsRune(key.Text, ' ') {
		return key
	}

	var match Key
	found := 0
	for existing := range s.entries {
		if existing.Type != key.Type || !strings.ContainsRune(existing.Text, ' ') {
			continue
		}
		tokens := strings.Fields(existing.Text)
		if tokens[0] == key.Text || tokens[len(tokens)-1] == key.Text {
			match = existing
			found++
		}
	}
	if found == 1 {
		return match
	}
	return key
}

// Statistics returns per-type mapping counts.
func (s *Session) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{ByType: make(map[string]int)}
	for key := range s.entries {
		stats.TotalEntities++
		stats.ByType[string(key.Type)]++
	}
	return stats
}

func (s *Session) export() ExportPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := ExportPayload{
		SessionID:  s.id,
		Mappings:   make(map[string]string, len(s.entries)),
		Statistics: Statistics{ByType: make(map[string]int)},
	}
	for key, e := range s.entries {
		payload.Mappings[key.String()] = e.Placeholder
		payload.Entries = append(payload.Entries, *e)
		payload.Statistics.TotalEntities++
		payload.Statistics.ByType[string(key.Type)]++
	}
	sort.Slice(payload.Entries, func(i, j int) bool {
		return payload.Entries[i].Placeholder < payload.Entries[j].Placeholder
	})
	return payload
}

func (s *Session) merge(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range entries {
		e := entries[i]
		s.entries[e.Key] = &e
		typ, n, err := splitPlaceholder(e.Placeholder)
		if err != nil {
			continue // validated before merge; defensive skip only
		}
		if s.counters[typ] < n {
			s.counters[typ] = n
		}
	}
}

// Store manages all mapping sessions. Sessions are created implicitly on
// first use and live until cleared or the process ends; export/import is
// the only durability mechanism.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *logger.Logger
}

// NewStore creates an empty session store.
func NewStore(log *logger.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		logger:   log,
	}
}

// Session returns the session for id, creating it when missing. An empty id
// gets a generated UUID.
func (st *Store) Session(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s = &Session{
		id:       id,
		entries:  make(map[Key]*Entry),
		counters: make(map[entity.Type]int),
	}
	st.sessions[id] = s
	st.logger.Info("Mapping session created", zap.String("session_id", id))
	return s
}

// Peek returns the session for id without creating one.
func (st *Store) Peek(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Export returns the serialized mapping payload for a session. An unknown
// session id yields an empty payload, not an error.
func (st *Store) Export(id string) ExportPayload {
	if s, ok := st.Peek(id); ok {
		return s.export()
	}
	return ExportPayload{
		SessionID:  id,
		Mappings:   map[string]string{},
		Statistics: Statistics{ByType: map[string]int{}},
	}
}

// Import merges canonical-key to placeholder pairs into a session, creating
// it when id is empty or unknown. The whole payload is validated before any
// mutation: a malformed placeholder rejects the import and leaves existing
// state untouched. Counters advance past the highest imported suffix per
// type so later GetOrCreate calls cannot collide with imported placeholders.
func (st *Store) Import(mappings map[string]string, id string) (string, error) {
	if mappings == nil {
		return "", &ValidationError{Field: "mappings", Message: "must be a mapping of string to string"}
	}

	entries := make([]Entry, 0, len(mappings))
	for rawKey, placeholder := range mappings {
		typ, _, err := splitPlaceholder(placeholder)
		if err != nil {
			return "", &ValidationError{Field: rawKey, Message: err.Error()}
		}
		key := parseKey(rawKey, typ)
		if key.Type != typ {
			return "", &ValidationError{
				Field:   rawKey,
				Message: fmt.Sprintf("key type %s does not match placeholder type %s", key.Type, typ),
			}
		}
		entries = append(entries, Entry{
			Key:          key,
			CanonicalKey: key.String(),
			Placeholder:  placeholder,
			Original:     key.Text,
			EntityType:   string(typ),
		})
	}

	s := st.Session(id)
	s.merge(entries)
	st.logger.Info("Mappings imported",
		zap.String("session_id", s.ID()),
		zap.Int("entries", len(entries)),
	)
	return s.ID(), nil
}

// Clear removes a session entirely. Clearing an unknown id is a no-op.
func (st *Store) Clear(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; ok {
		delete(st.sessions, id)
		st.logger.Info("Mapping session cleared", zap.String("session_id", id))
	}
}

// ListSessions returns all active session ids in sorted order.
func (st *Store) ListSessions() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
