package base

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type CheckOptions struct {
	// Check name
	Name string
	// CheckFunc returns nil when the checked dependency is healthy
	// and the reason otherwise.
	CheckFunc func(ctx context.Context) error
}

type MapCheckOptions struct {
	mu      sync.RWMutex
	options map[string]*CheckOptions
}

func NewMapCheckOptions() *MapCheckOptions {
	return &MapCheckOptions{
		options: make(map[string]*CheckOptions),
	}
}

func (mcf *MapCheckOptions) Append(src *MapCheckOptions) error {
	src.mu.RLock()
	defer src.mu.RUnlock()
	mcf.mu.Lock()
	defer mcf.mu.Unlock()

	for k, m := range src.options {
		if _, ok := mcf.options[k]; ok {
			return errors.Wrapf(ErrConflictName, "name: %s", k)
		}

		mcf.options[k] = m
	}

	return nil
}

func (mcf *MapCheckOptions) Add(options *CheckOptions) error {
	if options == nil {
		return ErrOptionsIsNil
	}

	if options.Name == "" {
		return ErrEmptyOptionsName
	}

	if options.CheckFunc == nil {
		return ErrFuncIsNil
	}

	mcf.mu.Lock()
	defer mcf.mu.Unlock()

	if _, ok := mcf.options[options.Name]; ok {
		return errors.Wrapf(ErrConflictName, "name: %s", options.Name)
	}

	mcf.options[options.Name] = options

	return nil
}

// CheckError names the check that failed.
type CheckError struct {
	Name string
	Err  error
}

func (e *CheckError) Error() string {
	return e.Name + ": " + e.Err.Error()
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// Check runs checks in name order and returns *CheckError for the
// first failed one.
func (mcf *MapCheckOptions) Check(ctx context.Context) error {
	mcf.mu.RLock()
	names := make([]string, 0, len(mcf.options))
	for name := range mcf.options {
		names = append(names, name)
	}
	options := make([]*CheckOptions, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		options = append(options, mcf.options[name])
	}
	mcf.mu.RUnlock()

	for _, opt := range options {
		if err := opt.CheckFunc(ctx); err != nil {
			return &CheckError{Name: opt.Name, Err: err}
		}
	}

	return nil
}

// ReadyCheckStorage keeps checks telling whether an enity can serve.
type ReadyCheckStorage struct {
	readyCheck *MapCheckOptions
}

func NewReadyCheckStorage() *ReadyCheckStorage {
	return &ReadyCheckStorage{
		readyCheck: NewMapCheckOptions(),
	}
}

func (s *ReadyCheckStorage) GetReadyHandlers() *MapCheckOptions {
	return s.readyCheck
}

// AliveCheckStorage keeps checks telling whether an enity is alive.
type AliveCheckStorage struct {
	aliveCheck *MapCheckOptions
}

func NewAliveCheckStorage() *AliveCheckStorage {
	return &AliveCheckStorage{
		aliveCheck: NewMapCheckOptions(),
	}
}

func (s *AliveCheckStorage) GetAliveHandlers() *MapCheckOptions {
	return s.aliveCheck
}
