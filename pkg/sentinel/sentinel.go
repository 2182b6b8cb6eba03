// Package sentinel implements the Resource Sentinel (spec.md §4.J): four
// cancellable observers that convert OS and hardware signals into
// preemption of in-flight inference, using the same ticker/stop-channel
// goroutine shape as pkg/audit's flush loop.
package sentinel

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hybridcore/inference-core/pkg/probes"
)

// Tier is a scheduler task's priority. Totally ordered: Critical < UserInitiated < Background.
type Tier int

const (
	TierCritical Tier = iota
	TierUserInitiated
	TierBackground
)

// SchedulerTask is submitted to the Scheduler; its sole invariant is that a
// Critical task preempts any running UserInitiated or Background task.
type SchedulerTask struct {
	Tier  Tier
	Label string
}

// Scheduler is the collaborator the sentinel submits tasks to. The
// Execution Manager implements preemption as cancellation of its current
// operation in response to a Critical submission.
type Scheduler interface {
	Submit(task SchedulerTask)
}

// Delegate receives the sentinel's best-effort side-channel notifications.
// Every method may be called concurrently and must not block for long.
type Delegate interface {
	EvictLocalModelResources()
	NotifyUser(message string)
	FlushBuffers()
	ThrottleAccelerator()
}

// heavyAppAllowlist is the closed set of resource-intensive application
// identifiers that trigger the heavy-app sentinel.
var heavyAppAllowlist = map[string]bool{
	"com.unity3d.UnityEditor": true,
	"com.adobe.PremierePro":   true,
	"com.blender.Blender":     true,
	"com.docker.docker":       true,
	"com.jetbrains.intellij":  true,
}

// AppLaunchSource delivers OS "application launched" notifications.
type AppLaunchSource interface {
	// Next blocks until an app launch is observed or ctx is cancelled via
	// Stop; it returns ok=false once the source is stopped.
	Next() (bundleID string, ok bool)
	Stop()
}

// MemoryPressureSource delivers kernel memory-pressure signals.
type MemoryPressureSource interface {
	Next() (level MemoryPressureLevel, ok bool)
	Stop()
}

type MemoryPressureLevel int

const (
	MemoryPressureWarning MemoryPressureLevel = iota
	MemoryPressureCritical
)

// InteractionSource signals user interaction, used to reset the idle timer.
type InteractionSource interface {
	Next() (ok bool)
	Stop()
}

// ThermalSource reports thermal ladder transitions.
type ThermalSource interface {
	Next() (level probes.Thermal, ok bool)
	Stop()
}

// Sentinel owns the four observers. Start and Stop are idempotent, and each
// Start uses a fresh stop channel. Stop also stops the four sources, and a
// stopped source reports ok=false from Next, so Start after Stop on the same
// Sentinel launches heavy-app, memory-pressure and thermal observers that
// exit at once; the idle-unload timer runs again but no longer sees
// interactions.
type Sentinel struct {
	scheduler Scheduler
	delegate  Delegate
	log       logrus.FieldLogger

	idleTimeout time.Duration

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	appSource         AppLaunchSource
	memSource         MemoryPressureSource
	interactionSource InteractionSource
	thermalSource     ThermalSource
}

type Option func(*Sentinel)

func WithIdleTimeout(d time.Duration) Option {
	return func(s *Sentinel) { s.idleTimeout = d }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Sentinel) { s.log = log }
}

func New(scheduler Scheduler, delegate Delegate, appSource AppLaunchSource, memSource MemoryPressureSource, interactionSource InteractionSource, thermalSource ThermalSource, opts ...Option) *Sentinel {
	s := &Sentinel{
		scheduler:         scheduler,
		delegate:          delegate,
		idleTimeout:       30 * time.Second,
		appSource:         appSource,
		memSource:         memSource,
		interactionSource: interactionSource,
		thermalSource:     thermalSource,
		log:               logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches all four observers. A no-op if already running.
func (s *Sentinel) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(4)
	go s.runHeavyAppSentinel(stopCh)
	go s.runIdleUnloadSentinel(stopCh)
	go s.runMemoryPressureObserver(stopCh)
	go s.runThermalWatcher(stopCh)
}

// Stop cancels all observers and waits for them to exit.
func (s *Sentinel) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.appSource.Stop()
	s.memSource.Stop()
	s.interactionSource.Stop()
	s.thermalSource.Stop()
	s.wg.Wait()
}

func (s *Sentinel) submit(tier Tier, label string) {
	defer s.recoverAndLog("submit")
	s.scheduler.Submit(SchedulerTask{Tier: tier, Label: label})
}

// runHeavyAppSentinel enqueues a critical task and evicts the local model
// whenever a resource-intensive application launches.
func (s *Sentinel) runHeavyAppSentinel(stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		bundleID, ok := s.appSource.Next()
		if !ok {
			return
		}
		if !heavyAppAllowlist[bundleID] {
			continue
		}

		s.submit(TierCritical, "heavy_app_launched:"+bundleID)
		s.safeEvict()
	}
}

// runIdleUnloadSentinel evicts the local model after idleTimeout elapses
// with no user interaction, resetting on every interaction.
func (s *Sentinel) runIdleUnloadSentinel(stopCh chan struct{}) {
	defer s.wg.Done()

	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	interactions := make(chan struct{})
	var forwarder sync.WaitGroup
	forwarder.Add(1)
	go func() {
		defer forwarder.Done()
		for {
			_, ok := s.interactionSource.Next()
			if !ok {
				return
			}
			select {
			case interactions <- struct{}{}:
			case <-stopCh:
				return
			}
		}
	}()
	defer forwarder.Wait()

	for {
		select {
		case <-stopCh:
			return
		case <-interactions:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.idleTimeout)
		case <-timer.C:
			s.safeEvict()
			timer.Reset(s.idleTimeout)
		}
	}
}

// runMemoryPressureObserver escalates on kernel memory-pressure signals.
func (s *Sentinel) runMemoryPressureObserver(stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		level, ok := s.memSource.Next()
		if !ok {
			return
		}

		switch level {
		case MemoryPressureWarning:
			s.submit(TierCritical, "memory_pressure_warning:deny_new_inference")
		case MemoryPressureCritical:
			s.submit(TierCritical, "memory_pressure_critical:deny_new_inference")
			s.safeNotify("Memory pressure critical")
			s.safeFlush()
			s.safeEvict()
		}
	}
}

// runThermalWatcher throttles on serious and performs an emergency shutdown
// on critical thermal transitions.
func (s *Sentinel) runThermalWatcher(stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		level, ok := s.thermalSource.Next()
		if !ok {
			return
		}

		switch level {
		case probes.ThermalSerious:
			s.safeThrottle()
			s.safeNotify("Thermal throttling engaged")
		case probes.ThermalCritical:
			s.submit(TierCritical, "thermal_critical:cancel_active_inference")
			s.safeFlush()
			s.safeEvict()
			s.safeNotify("Emergency Shutdown")
		}
	}
}

// The following safe* helpers enforce the "sentinel never fails a call"
// semantics: delegate notifications are best-effort side channels, so a
// panicking delegate must never take down an observer goroutine.

func (s *Sentinel) safeEvict() {
	defer s.recoverAndLog("evict")
	s.delegate.EvictLocalModelResources()
}

func (s *Sentinel) safeNotify(message string) {
	defer s.recoverAndLog("notify")
	s.delegate.NotifyUser(message)
}

func (s *Sentinel) safeFlush() {
	defer s.recoverAndLog("flush")
	s.delegate.FlushBuffers()
}

func (s *Sentinel) safeThrottle() {
	defer s.recoverAndLog("throttle")
	s.delegate.ThrottleAccelerator()
}

func (s *Sentinel) recoverAndLog(op string) {
	if r := recover(); r != nil && s.log != nil {
		s.log.WithField("op", op).Warnf("sentinel delegate panicked: %v", r)
	}
}
