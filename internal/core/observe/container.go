// Package observe implements validated key-value containers whose accepted
// mutations are emitted as typed change events carrying full region snapshots.
package observe

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/serdar/apiflow/internal/core/model"
)

// Emitter receives one event per accepted write or delete.
type Emitter func(model.MutationEvent)

// Validator checks and normalizes a top-level write. It returns the value to
// store and whether the write is accepted.
type Validator func(key string, value any) (any, bool)

// DeleteAction controls what a delete on a given key does.
type DeleteAction int

const (
	// DeleteAllow removes the key and emits an event.
	DeleteAllow DeleteAction = iota
	// DeleteNoop leaves the value in place but still emits a delete event.
	DeleteNoop
	// DeleteSwallow reports success without changing anything or emitting.
	DeleteSwallow
)

// DeletePolicy maps a key to its delete behavior.
type DeletePolicy func(key string) DeleteAction

// AllowAll is the default delete policy.
func AllowAll(string) DeleteAction { return DeleteAllow }

// Container wraps a key-value region. Writes are validated; invalid writes are
// rejected and logged, never raised, so a script keeps running after a bad
// assignment. Every accepted mutation emits an event with a deep snapshot.
type Container struct {
	region   model.Region
	data     map[string]any
	validate Validator
	deletes  DeletePolicy
	emit     Emitter
	log      *zap.Logger
}

// New creates a container for region. A nil validator accepts everything, a
// nil delete policy allows every delete, a nil emitter drops events.
func New(region model.Region, validate Validator, deletes DeletePolicy, emit Emitter, log *zap.Logger) *Container {
	if validate == nil {
		validate = func(_ string, v any) (any, bool) { return v, true }
	}
	if deletes == nil {
		deletes = AllowAll
	}
	if emit == nil {
		emit = func(model.MutationEvent) {}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Container{
		region:   region,
		data:     map[string]any{},
		validate: validate,
		deletes:  deletes,
		emit:     emit,
		log:      log,
	}
}

// Region returns the region this container backs.
func (c *Container) Region() model.Region { return c.region }

// Seed replaces the container contents without emitting. Used when the host
// initializes the model from a request snapshot.
func (c *Container) Seed(data map[string]any) {
	c.data = map[string]any{}
	for k, v := range data {
		c.data[k] = model.CloneValue(v)
	}
}

// Write validates and stores value under key, emitting a set event on
// acceptance. Returns whether the write was accepted.
func (c *Container) Write(key string, value any) bool {
	normalized, ok := c.validate(key, value)
	if !ok {
		c.log.Warn("rejected write",
			zap.String("region", string(c.region)),
			zap.String("key", key))
		return false
	}
	c.data[key] = normalized
	c.emit(model.MutationEvent{Region: c.region, Kind: model.EventSet, Snapshot: c.Snapshot()})
	return true
}

// Delete removes key according to the container's delete policy.
func (c *Container) Delete(key string) bool {
	switch c.deletes(key) {
	case DeleteSwallow:
		return true
	case DeleteNoop:
		c.emit(model.MutationEvent{Region: c.region, Kind: model.EventDelete, Snapshot: c.Snapshot()})
		return true
	}
	if _, exists := c.data[key]; !exists {
		return true
	}
	delete(c.data, key)
	c.emit(model.MutationEvent{Region: c.region, Kind: model.EventDelete, Snapshot: c.Snapshot()})
	return true
}

// WriteAt sets a value nested below a top-level key, e.g. path ["a","b"] sets
// data["a"]["b"]. The whole region snapshot is re-emitted so deep mutation is
// observed the same way as a top-level write. Paths that do not resolve to a
// map or slice are rejected.
func (c *Container) WriteAt(path []string, value any) bool {
	if len(path) == 0 {
		return false
	}
	if len(path) == 1 {
		return c.Write(path[0], value)
	}
	parent, ok := c.resolve(path[:len(path)-1])
	if !ok {
		c.log.Warn("rejected nested write",
			zap.String("region", string(c.region)),
			zap.Strings("path", path))
		return false
	}
	if !setChild(parent, path[len(path)-1], value) {
		c.log.Warn("rejected nested write",
			zap.String("region", string(c.region)),
			zap.Strings("path", path))
		return false
	}
	c.emit(model.MutationEvent{Region: c.region, Kind: model.EventSet, Snapshot: c.Snapshot()})
	return true
}

// DeleteAt removes a nested key and re-emits the region snapshot.
func (c *Container) DeleteAt(path []string) bool {
	if len(path) == 0 {
		return false
	}
	if len(path) == 1 {
		return c.Delete(path[0])
	}
	parent, ok := c.resolve(path[:len(path)-1])
	if !ok {
		return false
	}
	m, isMap := parent.(map[string]any)
	if !isMap {
		return false
	}
	if _, exists := m[path[len(path)-1]]; !exists {
		return true
	}
	delete(m, path[len(path)-1])
	c.emit(model.MutationEvent{Region: c.region, Kind: model.EventDelete, Snapshot: c.Snapshot()})
	return true
}

// Get returns the value stored at key.
func (c *Container) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// GetAt returns the value at a nested path.
func (c *Container) GetAt(path []string) (any, bool) {
	return c.resolve(path)
}

// Keys returns the container's top-level keys.
func (c *Container) Keys() []string {
	out := make([]string, 0, len(c.data))
	for k := range c.data {
		out = append(out, k)
	}
	return out
}

// Has reports whether key is present.
func (c *Container) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Len returns the number of top-level entries.
func (c *Container) Len() int { return len(c.data) }

// Snapshot returns a deep copy of the region contents.
func (c *Container) Snapshot() map[string]any {
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = model.CloneValue(v)
	}
	return out
}

func (c *Container) resolve(path []string) (any, bool) {
	var cur any
	cur, ok := c.data[path[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range path[1:] {
		switch t := cur.(type) {
		case map[string]any:
			cur, ok = t[seg]
			if !ok {
				return nil, false
			}
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func setChild(parent any, key string, value any) bool {
	switch t := parent.(type) {
	case map[string]any:
		t[key] = value
		return true
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return false
		}
		t[i] = value
		return true
	}
	return false
}
