package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/folio-cloud/ragdex/internal/db"
	"github.com/folio-cloud/ragdex/internal/domain"
)

var sessionKeyPrefix = domain.KeyPrefix + "session:"

// Turn records one retrieval interaction inside a chat session.
type Turn struct {
	At        time.Time `json:"at"`
	Utterance string    `json:"utterance"`
	Retrieved bool      `json:"retrieved"`
	Documents []string  `json:"documents,omitempty"`
}

// Session is the stored chat session trace.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Turns     []Turn    `json:"turns"`
}

// store is the consumer interface for the session store (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Repo persists chat session traces with a sliding TTL. Every write
// refreshes expiry, so a session dies only after ttl of inactivity.
type Repo struct {
	store store
	ttl   time.Duration
	now   func() time.Time
}

// New creates the session repository.
func New(s store, ttl time.Duration) *Repo {
	return &Repo{store: s, ttl: ttl, now: time.Now}
}

// WithClock overrides the timestamp source (tests).
func (r *Repo) WithClock(now func() time.Time) *Repo {
	r.now = now
	return r
}

// Start creates a new empty session and returns its id.
func (r *Repo) Start(ctx context.Context) (string, error) {
	id := uuid.NewString()
	sess := Session{ID: id, CreatedAt: r.now().UTC(), Turns: []Turn{}}
	if err := r.save(ctx, sess); err != nil {
		return "", err
	}
	return id, nil
}

// Get loads a session. A missing or expired session maps to
// domain.ErrRecordNotFound.
func (r *Repo) Get(ctx context.Context, id string) (Session, error) {
	data, err := r.store.JSONGet(ctx, sessionKey(id), "$")
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return Session{}, fmt.Errorf("session %s: %w", id, domain.ErrRecordNotFound)
		}
		return Session{}, fmt.Errorf("get session %s: %w: %w", id, err, domain.ErrStoreUnavailable)
	}

	// JSONPath "$" wraps the document in an array.
	var wrapped []Session
	if err := json.Unmarshal(data, &wrapped); err != nil || len(wrapped) == 0 {
		return Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return wrapped[0], nil
}

// Append adds a turn to an existing session and refreshes its TTL.
// Appending to an unknown session starts a fresh one under that id, so
// a client surviving a server-side expiry keeps working.
func (r *Repo) Append(ctx context.Context, id string, turn Turn) error {
	sess, err := r.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrRecordNotFound) {
			return err
		}
		sess = Session{ID: id, CreatedAt: r.now().UTC()}
	}

	sess.Turns = append(sess.Turns, turn)
	return r.save(ctx, sess)
}

// Touch refreshes the session TTL without modifying it.
func (r *Repo) Touch(ctx context.Context, id string) error {
	if err := r.store.Expire(ctx, sessionKey(id), r.ttl); err != nil {
		return fmt.Errorf("touch session %s: %w: %w", id, err, domain.ErrStoreUnavailable)
	}
	return nil
}

func (r *Repo) save(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	key := sessionKey(sess.ID)
	if err := r.store.JSONSet(ctx, key, "$", data); err != nil {
		return fmt.Errorf("save session %s: %w: %w", sess.ID, err, domain.ErrStoreUnavailable)
	}
	if err := r.store.Expire(ctx, key, r.ttl); err != nil {
		return fmt.Errorf("expire session %s: %w: %w", sess.ID, err, domain.ErrStoreUnavailable)
	}
	return nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
