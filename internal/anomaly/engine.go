package anomaly

import (
	"container/list"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// EngineConfig composes the three layer configurations with the optional
// subject-retention policy. MaxSubjects bounds the number of tracked
// subjects (least-recently-updated evicted first); SubjectTTL drops
// subjects not updated within the duration. Zero disables either bound.
type EngineConfig struct {
	Static      StaticConfig
	Seasonal    SeasonalConfig
	Distance    DistanceConfig
	MaxSubjects int
	SubjectTTL  time.Duration
}

// DefaultEngineConfig returns the production defaults with unbounded
// subject retention
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Static:   DefaultStaticConfig(),
		Seasonal: DefaultSeasonalConfig(),
		Distance: DefaultDistanceConfig(),
	}
}

// Result merges the three layer records for one observation
type Result struct {
	StaticResult
	SeasonalResult
	DistanceResult
}

// Anomalous reports whether any layer flagged the observation
func (r Result) Anomalous() bool {
	return r.StaticAnomaly == 1 || r.ZScoreAnomaly == 1 ||
		r.SeasonalAnomaly == 1 || r.ResidualAnomaly == 1 ||
		r.Anomaly == 1
}

type subjectEntry struct {
	key      string
	lastSeen time.Time
}

const lockStripes = 64

// Engine runs the three trackers behind one Update call and owns the
// subject-retention policy. Updates for distinct subjects may run
// concurrently; updates for one subject serialize on a striped lock so the
// merged result reflects a single consistent state transition. Arrival
// ordering of one subject's observations remains the caller's contract:
// the seasonal baseline is order-dependent.
type Engine struct {
	static   *StaticTracker
	seasonal *SeasonalTracker
	distance *DistanceTracker

	maxSubjects int
	subjectTTL  time.Duration
	now         func() time.Time

	stripes [lockStripes]sync.Mutex

	mu    sync.Mutex
	lru   *list.List
	index map[string]*list.Element
}

// NewEngine builds the three trackers, failing fast on any invalid
// configuration
func NewEngine(cfg EngineConfig) (*Engine, error) {
	static, err := NewStaticTracker(cfg.Static)
	if err != nil {
		return nil, err
	}
	seasonal, err := NewSeasonalTracker(cfg.Seasonal)
	if err != nil {
		return nil, err
	}
	distance, err := NewDistanceTracker(cfg.Distance)
	if err != nil {
		return nil, err
	}
	if cfg.MaxSubjects < 0 {
		return nil, fmt.Errorf("max subjects must be >= 0, got %d", cfg.MaxSubjects)
	}
	if cfg.SubjectTTL < 0 {
		return nil, fmt.Errorf("subject ttl must be >= 0, got %s", cfg.SubjectTTL)
	}

	return &Engine{
		static:      static,
		seasonal:    seasonal,
		distance:    distance,
		maxSubjects: cfg.MaxSubjects,
		subjectTTL:  cfg.SubjectTTL,
		now:         time.Now,
		lru:         list.New(),
		index:       make(map[string]*list.Element),
	}, nil
}

// Update runs value through the scalar layers and, when features is
// non-nil, the distance layer, returning the merged record. Non-finite
// inputs yield that layer's empty result (fail-open).
func (e *Engine) Update(subject string, value float64, features []float64) Result {
	stripe := &e.stripes[stripeFor(subject)]
	stripe.Lock()

	var result Result
	result.StaticResult = e.static.Update(subject, value)
	result.SeasonalResult = e.seasonal.Update(subject, value)
	if features != nil {
		result.DistanceResult = e.distance.Update(subject, features)
	}
	stripe.Unlock()

	e.touch(subject)
	return result
}

// Subjects returns the number of subjects currently retained
func (e *Engine) Subjects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.index)
}

// touch marks the subject as recently seen and applies the retention
// policy
func (e *Engine) touch(subject string) {
	e.mu.Lock()

	now := e.now()
	if el, ok := e.index[subject]; ok {
		el.Value.(*subjectEntry).lastSeen = now
		e.lru.MoveToFront(el)
	} else {
		e.index[subject] = e.lru.PushFront(&subjectEntry{key: subject, lastSeen: now})
	}

	var evicted []string
	if e.maxSubjects > 0 {
		for e.lru.Len() > e.maxSubjects {
			evicted = append(evicted, e.removeOldest())
		}
	}
	if e.subjectTTL > 0 {
		for el := e.lru.Back(); el != nil; el = e.lru.Back() {
			entry := el.Value.(*subjectEntry)
			if entry.key == subject || now.Sub(entry.lastSeen) <= e.subjectTTL {
				break
			}
			evicted = append(evicted, e.removeOldest())
		}
	}
	e.mu.Unlock()

	for _, key := range evicted {
		e.static.Forget(key)
		e.seasonal.Forget(key)
		e.distance.Forget(key)
	}
}

func (e *Engine) removeOldest() string {
	el := e.lru.Back()
	entry := el.Value.(*subjectEntry)
	e.lru.Remove(el)
	delete(e.index, entry.key)
	return entry.key
}

func stripeFor(subject string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return h.Sum32() % lockStripes
}
