package web

import (
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionCookie = "translator_session"

// releaser removes temporary files with retry.
type releaser interface {
	ReleaseArtifact(path string) error
}

// recording is the most recent processed capture of one browser.
type recording struct {
	path    string
	created time.Time
}

// sessionStore keeps the last recording of each browser, keyed by cookie.
// Recordings older than ttl are released by sweep.
type sessionStore struct {
	mutex      sync.Mutex
	recordings map[string]recording
	release    releaser
	ttl        time.Duration
}

func newSessionStore(release releaser, ttl time.Duration) *sessionStore {
	return &sessionStore{recordings: make(map[string]recording), release: release, ttl: ttl}
}

// sessionID returns the caller's session id, issuing a cookie when absent.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// replace stores rec for id and releases the recording it supersedes.
func (s *sessionStore) replace(id string, rec recording) {
	s.mutex.Lock()
	previous, ok := s.recordings[id]
	s.recordings[id] = rec
	s.mutex.Unlock()

	if ok && previous.path != rec.path {
		_ = s.release.ReleaseArtifact(previous.path)
	}
}

func (s *sessionStore) get(id string) (recording, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.recordings[id]

	return rec, ok
}

// sweep releases recordings created before now minus ttl and returns how
// many it removed.
func (s *sessionStore) sweep(now time.Time) int {
	var expired []string

	s.mutex.Lock()
	for id, rec := range s.recordings {
		if now.Sub(rec.created) >= s.ttl {
			expired = append(expired, rec.path)
			delete(s.recordings, id)
		}
	}
	s.mutex.Unlock()

	for _, path := range expired {
		_ = s.release.ReleaseArtifact(path)
	}

	return len(expired)
}

func (s *sessionStore) releaseAll() {
	s.mutex.Lock()
	recordings := s.recordings
	s.recordings = make(map[string]recording)
	s.mutex.Unlock()

	for _, rec := range recordings {
		_ = s.release.ReleaseArtifact(rec.path)
	}
}

// artifact is synthesized audio waiting to be fetched. The file is read into
// memory and deleted on the first fetch; the bytes stay available for range
// requests and replays until the entry expires.
type artifact struct {
	path    string
	data    []byte
	modTime time.Time
	expires time.Time
}

// artifactStore hands out synthesized audio under random ids.
type artifactStore struct {
	mutex   sync.Mutex
	entries map[string]*artifact
	release releaser
	ttl     time.Duration
}

func newArtifactStore(release releaser, ttl time.Duration) *artifactStore {
	return &artifactStore{entries: make(map[string]*artifact), release: release, ttl: ttl}
}

func (a *artifactStore) register(path string) string {
	id := uuid.NewString()

	a.mutex.Lock()
	a.entries[id] = &artifact{path: path, expires: time.Now().Add(a.ttl)}
	a.mutex.Unlock()

	return id
}

// fetch returns the audio registered under id, loading it from disk and
// releasing the file on first use.
func (a *artifactStore) fetch(id string) (artifact, bool, error) {
	a.mutex.Lock()

	entry, ok := a.entries[id]
	if !ok || !time.Now().Before(entry.expires) {
		a.mutex.Unlock()

		return artifact{}, false, nil
	}

	if entry.data != nil {
		loaded := *entry
		a.mutex.Unlock()

		return loaded, true, nil
	}

	data, err := os.ReadFile(entry.path)
	if err != nil {
		delete(a.entries, id)
		a.mutex.Unlock()

		return artifact{}, false, nil
	}

	entry.data = data
	entry.modTime = time.Now()
	loaded := *entry
	a.mutex.Unlock()

	return loaded, true, a.release.ReleaseArtifact(loaded.path)
}

// sweep drops entries that expired before now, releasing files that were
// never fetched, and returns how many it dropped.
func (a *artifactStore) sweep(now time.Time) int {
	var unfetched []string

	dropped := 0

	a.mutex.Lock()
	for id, entry := range a.entries {
		if now.Before(entry.expires) {
			continue
		}

		if entry.data == nil {
			unfetched = append(unfetched, entry.path)
		}

		delete(a.entries, id)
		dropped++
	}
	a.mutex.Unlock()

	for _, path := range unfetched {
		_ = a.release.ReleaseArtifact(path)
	}

	return dropped
}

func (a *artifactStore) releaseAll() {
	a.mutex.Lock()
	entries := a.entries
	a.entries = make(map[string]*artifact)
	a.mutex.Unlock()

	for _, entry := range entries {
		if entry.data == nil {
			_ = a.release.ReleaseArtifact(entry.path)
		}
	}
}
