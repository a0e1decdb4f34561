package vault

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/metrics"
)

// strategy is one row of a capability table.
type strategy[T any] struct {
	name   string
	usable func(h Handler) bool
	run    func(ctx context.Context, h Handler) (T, error)
}

// step builds a strategy that produces no value.
func step(name string, usable func(Handler) bool, run func(context.Context, Handler) error) strategy[struct{}] {
	return strategy[struct{}]{
		name:   name,
		usable: usable,
		run: func(ctx context.Context, h Handler) (struct{}, error) {
			return struct{}{}, run(ctx, h)
		},
	}
}

// fatalError stops a cascade.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// stopOnRejection marks err fatal when the user declined a signature in a
// nested operation.
func stopOnRejection(err error) error {
	if IsUserRejected(err) {
		return fatal(err)
	}
	return err
}

// cascadeResult describes how a cascade ended.
type cascadeResult[T any] struct {
	value    T
	strategy string // winning strategy, empty when none succeeded
	tried    int    // strategies that ran
	fatal    bool   // a strategy stopped the walk
	err      error  // last failure
}

func (r cascadeResult[T]) ok() bool { return r.strategy != "" }

// runCascade tries each usable strategy in order until one succeeds. A
// fatal error ends the walk and is returned unwrapped.
func runCascade[T any](ctx context.Context, a *Adapter, op string, h Handler, table []strategy[T]) cascadeResult[T] {
	var res cascadeResult[T]
	log := a.logger(ctx)
	for _, s := range table {
		if s.usable != nil && !s.usable(h) {
			continue
		}
		v, err := s.run(ctx, h)
		if err == nil {
			metrics.RecordStrategy(op, s.name, "success")
			res.value = v
			res.strategy = s.name
			res.tried++
			res.err = nil
			return res
		}
		if errors.Is(err, errSkip) {
			metrics.RecordStrategy(op, s.name, "skipped")
			continue
		}
		res.tried++
		var f *fatalError
		if errors.As(err, &f) {
			metrics.RecordStrategy(op, s.name, "fatal")
			log.Debug("strategy failed fatally", zap.String("strategy", s.name), zap.Error(f.err))
			res.fatal = true
			res.err = f.err
			return res
		}
		metrics.RecordStrategy(op, s.name, "failed")
		log.Debug("strategy failed", zap.String("strategy", s.name), zap.Error(err))
		res.err = err
	}
	return res
}

// usableNames lists the strategies h can run, in table order.
func usableNames[T any](h Handler, table []strategy[T]) []string {
	var names []string
	for _, s := range table {
		if s.usable == nil || s.usable(h) {
			names = append(names, s.name)
		}
	}
	return names
}
