package app

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a service.
type State string

const (
	// StateRunning consumes inbound queues and takes part in master election.
	StateRunning State = "running"
	// StatePausing is tearing down timers, subscriptions, and leadership.
	StatePausing State = "pausing"
	// StatePaused holds connections but does no work.
	StatePaused State = "paused"
	// StateStopping waits for handlers and releases connections.
	StateStopping State = "stopping"
	// StateTerminated is final.
	StateTerminated State = "terminated"
)

// State returns current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the service has terminated.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Start subscribes inbound queues and starts the master monitor.
// Params: context for subscription setup.
// Returns: bootstrap error.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return errors.New("service is stopping")
	}
	return s.bootstrapLocked(ctx)
}

func (s *Service) bootstrapLocked(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	timersCtx, cancel := context.WithCancel(context.Background())
	s.timersCancel = cancel
	s.timersWG.Add(1)
	go func() {
		defer s.timersWG.Done()
		s.master.Run(timersCtx)
	}()
	s.state = StateRunning
	s.readyFlag.Store(true)
	s.logger.Info("service running")
	return nil
}

// Pause stops consuming, cancels timers, and resigns leadership.
// Params: context bounding unsubscribe and lease release.
// Returns: after the service is paused; repeated calls while pausing or paused are no-ops.
func (s *Service) Pause(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	s.pauseLocked(ctx)
}

func (s *Service) pauseLocked(ctx context.Context) {
	if s.state == StatePausing || s.state == StatePaused {
		return
	}
	if s.state != StateStopping {
		s.state = StatePausing
	}
	s.readyFlag.Store(false)
	s.logger.Warn("pausing")

	if s.timersCancel != nil {
		s.timersCancel()
		s.timersCancel = nil
	}
	s.timersWG.Wait()

	s.logger.Warn("unsubscribing from keepalive and result queues")
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Error("unsubscribe failed", "error", err.Error())
	}
	s.master.Resign(ctx)

	if s.state != StateStopping {
		s.state = StatePaused
	}
}

// Resume restarts work once both store and transport are connected.
// Params: none.
// Returns: immediately; retries every second in the background until resumed or stopped.
func (s *Service) Resume() {
	s.mu.Lock()
	if s.resuming || s.stopping {
		s.mu.Unlock()
		return
	}
	s.resuming = true
	ctx, cancel := context.WithCancel(context.Background())
	s.resumeCancel = cancel
	s.mu.Unlock()

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		ticker := time.NewTicker(resumeRetryInterval)
		defer ticker.Stop()
		for {
			if s.tryResume(ctx) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// tryResume bootstraps a paused service with live connections.
// Returns: true when no further attempts are needed.
func (s *Service) tryResume(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping || ctx.Err() != nil {
		s.resuming = false
		return true
	}
	if s.state == StateRunning {
		s.resuming = false
		return true
	}
	if s.state != StatePaused || !s.store.Connected() || !s.transport.Connected() {
		return false
	}
	if err := s.bootstrapLocked(ctx); err != nil {
		s.logger.Error("resume failed", "error", err.Error())
		return false
	}
	s.resuming = false
	return true
}

// Stop pauses, waits for in-flight handlers, and releases every connection.
// Params: context bounding the in-flight wait and shutdown calls.
// Returns: first shutdown error; later calls return the same result.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
		close(s.done)
	})
	<-s.done
	return s.stopErr
}

func (s *Service) stop(ctx context.Context) error {
	s.logger.Warn("stopping")
	var errs []error

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		cancel()
	}

	s.mu.Lock()
	s.stopping = true
	if s.resumeCancel != nil {
		s.resumeCancel()
	}
	alreadyPaused := s.state == StatePaused
	s.state = StateStopping
	if !alreadyPaused {
		s.pauseLocked(ctx)
	}
	s.mu.Unlock()

	s.logger.Info("completing handlers in progress", "handlers_in_progress_count", s.inflight.Count())
	if err := s.inflight.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for handlers: %w", err))
	}
	if err := s.extensions.StopAll(ctx); err != nil {
		s.logger.Error("extension stop failed", "error", err.Error())
		errs = append(errs, fmt.Errorf("stop extensions: %w", err))
	}
	s.dispatcher.Close()
	s.background.Wait()

	if err := s.transport.Close(); err != nil {
		s.logger.Error("transport close failed", "error", err.Error())
		errs = append(errs, fmt.Errorf("transport close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()
	s.logger.Warn("stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return errors.Join(errs...)
}
