// Package identity manages the node's durable device identity: a
// 16-byte UUID-shaped identifier generated once and persisted in a
// checksum-guarded record. Corruption self-heals by regeneration, which
// makes the node look like a brand-new device to the backend; nothing
// downstream negotiates sequence state, so that is safe.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/airshed-labs/co2node/internal/events"
	"github.com/airshed-labs/co2node/internal/wire"
)

// Slot is the versioned storage location of the identity record. A
// layout change moves to a new slot name, so bytes written by an
// incompatible layout are never misread as the current one.
const Slot = "identity/v1"

// Identity is the node's device identifier. Immutable after the first
// successful Load; topic names and payloads derive from it.
type Identity [wire.IdentitySize]byte

// String renders the identity in canonical UUID text form.
func (id Identity) String() string {
	return uuid.UUID(id).String()
}

// TopicSuffix returns the last six identity bytes as lowercase hex, the
// per-device discriminator in the config topic name. Twelve characters
// keeps topics short and still collision-resistant per device.
func (id Identity) TopicSuffix() string {
	return hex.EncodeToString(id[10:])
}

// Storage is the durable byte storage identities persist in. A missing
// slot reports ok == false rather than an error.
type Storage interface {
	Read(slot string) (data []byte, ok bool, err error)
	Write(slot string, data []byte) error
}

// Store loads and persists the device identity.
type Store struct {
	// Entropy feeds identity generation; nil means crypto/rand. Tests
	// inject a deterministic reader here.
	Entropy io.Reader
	// Bus receives a regeneration event when the stored record is
	// replaced. Optional; nil disables it.
	Bus *events.Bus

	storage Storage
	log     *slog.Logger
}

// NewStore returns a store over the given storage.
func NewStore(storage Storage, log *slog.Logger) *Store {
	return &Store{storage: storage, log: log}
}

// Load returns the persisted identity when its record validates, and
// otherwise generates, persists, and returns a fresh one. A bad
// checksum or layout is recovered silently apart from a log line; only
// storage I/O and entropy failures surface as errors.
func (s *Store) Load() (Identity, error) {
	data, ok, err := s.storage.Read(Slot)
	if err != nil {
		return Identity{}, fmt.Errorf("read identity slot: %w", err)
	}
	if ok {
		rec, err := wire.DecodeRecord(data)
		if err == nil {
			return Identity(rec.Identity), nil
		}
		s.log.Warn("stored identity invalid, regenerating", "error", err)
	}
	return s.Regenerate()
}

// Regenerate discards whatever the slot holds and persists a fresh
// identity. Used by Load on corruption and by the CLI on request.
func (s *Store) Regenerate() (Identity, error) {
	entropy := s.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	u, err := uuid.NewRandomFromReader(entropy)
	if err != nil {
		return Identity{}, fmt.Errorf("generate identity: %w", err)
	}

	id := Identity(u)
	if err := s.Save(id); err != nil {
		return Identity{}, err
	}
	s.log.Info("generated new device identity",
		"identity", id.String(),
		"topic_suffix", id.TopicSuffix())
	s.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceIdentity,
		Kind:      events.KindIdentityRegenerated,
		Data:      map[string]any{"identity": id.String(), "topic_suffix": id.TopicSuffix()},
	})
	return id, nil
}

// Save writes id with a freshly computed checksum to the versioned
// slot. No caller mutates an identity post-boot; Save exists for
// Regenerate and for first-boot initialization.
func (s *Store) Save(id Identity) error {
	rec := wire.NewRecord([wire.IdentitySize]byte(id))
	if err := s.storage.Write(Slot, rec.Encode()); err != nil {
		return fmt.Errorf("write identity slot: %w", err)
	}
	return nil
}
