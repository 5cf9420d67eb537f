// Package content creates domain objects inside their containers: it picks
// the factory registered for a type, hands it a temporary id, announces the
// new object and stores it.
package content

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/patient/internal/platform/metrics"
)

var ErrUnknownType = errors.New("unknown content type")

// Object is a created piece of content.
type Object interface {
	ContentID() string
}

// Container is the object new content is placed in.
type Container interface {
	ContainerID() string
}

// Factory builds an unsaved object of one type with the given id.
type Factory func(ctx context.Context, id string, container Container) (Object, error)

// Store adds a built object to its container.
type Store func(ctx context.Context, obj Object, container Container) error

// EventKind names a lifecycle event.
type EventKind string

const ObjectCreated EventKind = "object_created"

// Event is delivered to subscribers once an object has been built and
// before it is stored.
type Event struct {
	Kind      EventKind
	TypeName  string
	Object    Object
	Container Container
}

// Subscriber reacts to events. A returned error aborts the creation.
type Subscriber func(ctx context.Context, ev Event) error

type registration struct {
	factory Factory
	store   Store
}

// Creator is the registry of content types.
type Creator struct {
	mu          sync.RWMutex
	types       map[string]registration
	subscribers []Subscriber
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	newID       func() string
}

func NewCreator(m *metrics.Metrics, logger zerolog.Logger) *Creator {
	return &Creator{
		types:   make(map[string]registration),
		metrics: m,
		logger:  logger,
		newID:   TmpID,
	}
}

// TmpID returns a fresh temporary object id.
func TmpID() string {
	return uuid.New().String()
}

// Register makes typeName creatable. Registering a type again replaces it.
func (c *Creator) Register(typeName string, f Factory, s Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[typeName] = registration{factory: f, store: s}
}

// Subscribe adds a subscriber notified for every created object.
func (c *Creator) Subscribe(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, s)
}

// Create builds a new object of typeName, notifies subscribers and stores it
// in container.
func (c *Creator) Create(ctx context.Context, typeName string, container Container) (Object, error) {
	c.mu.RLock()
	reg, ok := c.types[typeName]
	subscribers := append([]Subscriber(nil), c.subscribers...)
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	if container == nil {
		return nil, fmt.Errorf("create %s: no container", typeName)
	}

	obj, err := reg.factory(ctx, c.newID(), container)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", typeName, err)
	}

	ev := Event{Kind: ObjectCreated, TypeName: typeName, Object: obj, Container: container}
	for _, s := range subscribers {
		if err := s(ctx, ev); err != nil {
			return nil, fmt.Errorf("notify %s created: %w", typeName, err)
		}
	}

	if err := reg.store(ctx, obj, container); err != nil {
		return nil, fmt.Errorf("store %s: %w", typeName, err)
	}

	c.metrics.IncrementObjectsCreated(typeName)
	c.logger.Info().
		Str("type", typeName).
		Str("id", obj.ContentID()).
		Str("container", container.ContainerID()).
		Msg("content created")
	return obj, nil
}
