package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/danmuck/svcwire/internal/observability"
	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
)

const idLen = 20

var (
	ErrNotFound            = errors.New("registry: not found")
	ErrMissingInstanceName = errors.New("registry: record has no instance name")
	ErrMissingClassID      = errors.New("registry: class has no class id")
	ErrCorruptEntry        = errors.New("registry: corrupt entry")
	ErrClosed              = errors.New("registry: closed")
)

// Options configures Open. A nil FS uses the local disk.
type Options struct {
	Path  string
	FS    vfs.FS
	Codec record.Codec
	Sync  bool
}

// Entry is one registered record.
type Entry struct {
	ID     ksuid.KSUID
	Record *record.Record
	// Flattened is the stored wire form of Record.
	Flattened []byte
}

type ClassEntry struct {
	ID        ksuid.KSUID
	Class     *record.ServiceClassInfo
	Flattened []byte
}

// Registry stores records by class id and instance name.
type Registry struct {
	// mu serializes read-modify-write registration so ids stay stable.
	mu    sync.Mutex
	db    *pebble.DB
	codec record.Codec
	write *pebble.WriteOptions
}

func Open(opts Options) (*Registry, error) {
	popts := &pebble.Options{}
	if opts.FS != nil {
		popts.FS = opts.FS
	}
	db, err := pebble.Open(opts.Path, popts)
	if err != nil {
		return nil, fmt.Errorf("registry: open %q: %w", opts.Path, err)
	}
	write := pebble.NoSync
	if opts.Sync {
		write = pebble.Sync
	}
	log.Info().Str("path", opts.Path).Bool("sync", opts.Sync).Msg("registry.Open")
	return &Registry{db: db, codec: opts.Codec.WithDefaults(), write: write}, nil
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return ErrClosed
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Register stores rec under its class id and instance name. A record without
// a class id is filed under uuid.Nil. Re-registering a key replaces the record
// and keeps its id.
func (r *Registry) Register(rec *record.Record) (Entry, error) {
	e, err := r.register(rec)
	observability.RecordRegistry("register", result(err))
	return e, err
}

func (r *Registry) register(rec *record.Record) (Entry, error) {
	if rec == nil {
		return Entry{}, ErrMissingInstanceName
	}
	name, ok := rec.InstanceName.Get()
	if !ok || name == "" {
		return Entry{}, ErrMissingInstanceName
	}
	flat, err := r.codec.Flatten(rec)
	if err != nil {
		return Entry{}, fmt.Errorf("registry: flatten %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return Entry{}, ErrClosed
	}
	key := serviceKey(rec.ClassID.Value(), name)
	id, err := r.existingID(key)
	if err != nil {
		return Entry{}, err
	}
	if err := r.db.Set(key, encodeValue(id, flat), r.write); err != nil {
		return Entry{}, fmt.Errorf("registry: store %q: %w", name, err)
	}
	log.Debug().
		Str("id", id.String()).
		Str("class_id", rec.ClassID.Value().String()).
		Str("instance_name", name).
		Int("size", len(flat)).
		Msg("registry.Register")
	return Entry{ID: id, Record: rec, Flattened: flat}, nil
}

// existingID returns the stored id for key, or a fresh one.
func (r *Registry) existingID(key []byte) (ksuid.KSUID, error) {
	val, closer, err := r.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ksuid.New(), nil
	}
	if err != nil {
		return ksuid.Nil, fmt.Errorf("registry: read %q: %w", key, err)
	}
	defer closer.Close()
	if len(val) < idLen {
		return ksuid.Nil, fmt.Errorf("%w: value of %d bytes", ErrCorruptEntry, len(val))
	}
	return ksuid.FromBytes(val[:idLen])
}

func (r *Registry) Lookup(classID uuid.UUID, name string) (Entry, error) {
	e, err := r.lookup(classID, name)
	observability.RecordRegistry("lookup", result(err))
	return e, err
}

func (r *Registry) lookup(classID uuid.UUID, name string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return Entry{}, ErrClosed
	}
	val, closer, err := r.db.Get(serviceKey(classID, name))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, classID, name)
	}
	if err != nil {
		return Entry{}, err
	}
	defer closer.Close()
	return r.decodeEntry(val)
}

// List returns the records of one class ordered by instance name, or every
// record when classID is uuid.Nil.
func (r *Registry) List(classID uuid.UUID) ([]Entry, error) {
	out, err := r.list(classID)
	observability.RecordRegistry("list", result(err))
	return out, err
}

func (r *Registry) list(classID uuid.UUID) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, ErrClosed
	}
	lower, upper := serviceSpan(classID)
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("registry: iterate: %w", err)
	}
	defer iter.Close()

	out := make([]Entry, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		e, err := r.decodeEntry(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("registry: key %q: %w", iter.Key(), err)
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("registry: iterate: %w", err)
	}
	return out, nil
}

func (r *Registry) Remove(classID uuid.UUID, name string) error {
	err := r.remove(classID, name)
	observability.RecordRegistry("remove", result(err))
	return err
}

func (r *Registry) remove(classID uuid.UUID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return ErrClosed
	}
	key := serviceKey(classID, name)
	_, closer, err := r.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, classID, name)
	}
	if err != nil {
		return err
	}
	_ = closer.Close()
	log.Debug().Str("class_id", classID.String()).Str("instance_name", name).Msg("registry.Remove")
	return r.db.Delete(key, r.write)
}

// RegisterClass stores sc under its class id, keeping the id of an earlier
// registration.
func (r *Registry) RegisterClass(sc *record.ServiceClassInfo) (ClassEntry, error) {
	e, err := r.registerClass(sc)
	observability.RecordRegistry("register_class", result(err))
	return e, err
}

func (r *Registry) registerClass(sc *record.ServiceClassInfo) (ClassEntry, error) {
	if sc == nil || !sc.ClassID.Present() {
		return ClassEntry{}, ErrMissingClassID
	}
	classID := sc.ClassID.Value()
	flat, err := r.codec.FlattenClass(sc)
	if err != nil {
		return ClassEntry{}, fmt.Errorf("registry: flatten class %s: %w", classID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return ClassEntry{}, ErrClosed
	}
	key := classKey(classID)
	id, err := r.existingID(key)
	if err != nil {
		return ClassEntry{}, err
	}
	if err := r.db.Set(key, encodeValue(id, flat), r.write); err != nil {
		return ClassEntry{}, fmt.Errorf("registry: store class %s: %w", classID, err)
	}
	log.Debug().Str("id", id.String()).Str("class_id", classID.String()).Msg("registry.RegisterClass")
	return ClassEntry{ID: id, Class: sc, Flattened: flat}, nil
}

func (r *Registry) LookupClass(classID uuid.UUID) (ClassEntry, error) {
	e, err := r.lookupClass(classID)
	observability.RecordRegistry("lookup_class", result(err))
	return e, err
}

func (r *Registry) lookupClass(classID uuid.UUID) (ClassEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return ClassEntry{}, ErrClosed
	}
	val, closer, err := r.db.Get(classKey(classID))
	if errors.Is(err, pebble.ErrNotFound) {
		return ClassEntry{}, fmt.Errorf("%w: class %s", ErrNotFound, classID)
	}
	if err != nil {
		return ClassEntry{}, err
	}
	defer closer.Close()

	id, flat, err := splitValue(val)
	if err != nil {
		return ClassEntry{}, err
	}
	sc, err := r.codec.ReconstructClass(flat)
	if err != nil {
		return ClassEntry{}, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	return ClassEntry{ID: id, Class: sc, Flattened: flat}, nil
}

func (r *Registry) decodeEntry(val []byte) (Entry, error) {
	id, flat, err := splitValue(val)
	if err != nil {
		return Entry{}, err
	}
	rec, err := r.codec.Reconstruct(flat)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	return Entry{ID: id, Record: rec, Flattened: flat}, nil
}

func encodeValue(id ksuid.KSUID, flat []byte) []byte {
	out := make([]byte, 0, idLen+len(flat))
	out = append(out, id.Bytes()...)
	return append(out, flat...)
}

// splitValue copies out of val, which pebble only lends until the closer or
// iterator moves on.
func splitValue(val []byte) (ksuid.KSUID, []byte, error) {
	if len(val) < idLen {
		return ksuid.Nil, nil, fmt.Errorf("%w: value of %d bytes", ErrCorruptEntry, len(val))
	}
	id, err := ksuid.FromBytes(val[:idLen])
	if err != nil {
		return ksuid.Nil, nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	flat := make([]byte, len(val)-idLen)
	copy(flat, val[idLen:])
	return id, flat, nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMissingInstanceName), errors.Is(err, ErrMissingClassID):
		return "invalid"
	default:
		return "error"
	}
}
