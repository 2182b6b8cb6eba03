// Command hybridcored wires together the hybrid inference execution core
// and serves as a demo entry point, grounded on the teacher's service
// command pattern (flag-configured path, logrus-formatted logging,
// signal-driven graceful shutdown).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hybridcore/inference-core/internal/config"
	"github.com/hybridcore/inference-core/pkg/audit"
	"github.com/hybridcore/inference-core/pkg/cloud"
	"github.com/hybridcore/inference-core/pkg/cloud/anthropic"
	"github.com/hybridcore/inference-core/pkg/cloud/google"
	"github.com/hybridcore/inference-core/pkg/cloud/openai"
	"github.com/hybridcore/inference-core/pkg/cloud/privatecloud"
	"github.com/hybridcore/inference-core/pkg/hybrid"
	"github.com/hybridcore/inference-core/pkg/localengine"
	"github.com/hybridcore/inference-core/pkg/probes"
	"github.com/hybridcore/inference-core/pkg/retry"
	"github.com/hybridcore/inference-core/pkg/router"
	"github.com/hybridcore/inference-core/pkg/sanitize"
	"github.com/hybridcore/inference-core/pkg/secrets"
	"github.com/hybridcore/inference-core/pkg/sentinel"
	"github.com/hybridcore/inference-core/pkg/signer"
)

var (
	configPath    = flag.String("config", "", "path to a YAML configuration file; falls back to built-in defaults when empty")
	localEndpoint = flag.String("local-endpoint", "http://127.0.0.1:8081", "LocalAI-compatible endpoint for the local engine facade")
	awsRegion     = flag.String("aws-region", "us-east-1", "AWS region used by the private-cloud provider adapter")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	log.SetLevel(parseLevel(cfg.Logging.Level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	store := secrets.NewEnvStore(map[config.Provider]string{
		config.ProviderAnthropic:    os.Getenv("ANTHROPIC_API_KEY"),
		config.ProviderOpenAI:       os.Getenv("OPENAI_API_KEY"),
		config.ProviderGoogle:       os.Getenv("GOOGLE_API_KEY"),
		config.ProviderPrivateCloud: os.Getenv("PRIVATE_CLOUD_TOKEN"),
	})

	providers := map[config.Provider]cloud.ProviderClient{
		config.ProviderAnthropic:    anthropic.New(cfg.Providers[config.ProviderAnthropic].Endpoint),
		config.ProviderOpenAI:       openai.New(cfg.Providers[config.ProviderOpenAI].Endpoint),
		config.ProviderGoogle:       google.New(),
		config.ProviderPrivateCloud: privatecloud.New(*awsRegion, cfg.Providers[config.ProviderPrivateCloud].Endpoint),
	}
	order := []config.Provider{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle, config.ProviderPrivateCloud}

	retryPolicy := retry.New(retry.Config{
		Base:       cfg.Retry.BaseDelay,
		Multiplier: cfg.Retry.ExponentialMultiplier,
		MaxDelay:   cfg.Retry.MaxDelay,
		MaxRetries: cfg.Retry.MaxRetries,
	})
	cloudClient := cloud.New(cfg, store, providers, order, retryPolicy, log)

	vramProbe := demoVRAMQuery{}
	thermalProbe := demoThermalQuery{}
	probeMetrics := probes.NewMetrics()
	probesFacade := probes.New(vramProbe, thermalProbe, probeMetrics)

	sanitizer := sanitize.NewSanitizer()

	var auditSink audit.Sink = logSink{log: log}
	if redisAddr := os.Getenv("AUDIT_REDIS_ADDR"); redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		auditSink = audit.NewRedisSink(redisClient, "hybridcore:audit", 0)
		log.WithField("redis_addr", redisAddr).Info("audit events will be persisted to redis")
	}
	auditLog := audit.NewBufferedLog(auditSink, signer.NoopSigner{}, log, 20, 5*time.Second)
	defer auditLog.Stop()

	shadowRouter := router.New(cfg, sanitizer, probesFacade, cloudClient, auditLog, router.WithLogger(log))

	httpClient := &http.Client{Timeout: 120 * time.Second}
	localFacade := localengine.New(*localEndpoint, httpClient, probesFacade, log)

	manager := hybrid.New(cfg, sanitizer, shadowRouter, probesFacade, localFacade, cloudClient, log)

	resourceScheduler := &loggingScheduler{log: log, cancel: cancel}
	resourceDelegate := &managerDelegate{log: log, facade: localFacade}
	watchdog := sentinel.New(resourceScheduler, resourceDelegate,
		newNoopAppLaunchSource(), newNoopMemoryPressureSource(), newNoopInteractionSource(), newNoopThermalSource())
	watchdog.Start()
	defer watchdog.Stop()

	log.WithFields(logrus.Fields{
		"has_any_provider": cloudClient.HasAnyProvider(),
	}).Info("hybrid inference core started")

	runREPL(ctx, manager, log)
}

func runREPL(ctx context.Context, manager *hybrid.Manager, log logrus.FieldLogger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("hybridcored ready; type a prompt and press enter (Ctrl-C to quit)")

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		prompt := scanner.Text()
		if prompt == "" {
			continue
		}

		result, err := manager.ExecuteWithFallback(ctx, prompt, hybrid.ExecuteOptions{})
		if err != nil {
			log.WithError(err).Error("execution failed")
			continue
		}

		fmt.Printf("[%s] %s\n", result.Decision.TargetModel(), result.Text)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// demoVRAMQuery/demoThermalQuery stand in for the real accelerator
// bindings, which are platform-specific and out of scope for this core
// (spec.md §4.A treats the probe source as an injected collaborator).
type demoVRAMQuery struct{}

func (demoVRAMQuery) Query() (maxWorkingSet, currentAllocated float64, ok bool) {
	return 24 << 30, 2 << 30, true
}

type demoThermalQuery struct{}

func (demoThermalQuery) Query() probes.Thermal { return probes.ThermalNominal }

// logSink is the demo's audit sink: it writes flushed events to the
// structured logger rather than a persistent archive.
type logSink struct {
	log logrus.FieldLogger
}

func (s logSink) Write(ctx context.Context, events []audit.Event) error {
	for _, e := range events {
		s.log.WithFields(logrus.Fields{
			"audit_type":   e.Type,
			"audit_source": e.Source,
			"audit_id":     e.ID,
		}).Info("audit event flushed")
	}
	return nil
}

// loggingScheduler is the demo's Scheduler: it logs every submission and,
// on a critical task, cancels the demo's root context, which aborts any
// in-flight execution manager call and also ends the REPL (spec.md §4.J).
type loggingScheduler struct {
	log    logrus.FieldLogger
	cancel context.CancelFunc
}

func (s *loggingScheduler) Submit(task sentinel.SchedulerTask) {
	s.log.WithFields(logrus.Fields{
		"tier":  task.Tier,
		"label": task.Label,
	}).Warn("sentinel scheduler task submitted")

	if task.Tier == sentinel.TierCritical {
		s.cancel()
	}
}

// managerDelegate adapts the execution manager's local engine facade to
// the sentinel's best-effort Delegate contract.
type managerDelegate struct {
	log    logrus.FieldLogger
	facade interface{ Unload() error }
}

func (d *managerDelegate) EvictLocalModelResources() {
	if err := d.facade.Unload(); err != nil {
		d.log.WithError(err).Warn("failed to evict local model")
	}
}

func (d *managerDelegate) NotifyUser(message string) {
	d.log.WithField("notice", message).Warn("user notice")
}

func (d *managerDelegate) FlushBuffers() {
	d.log.Info("flushing in-flight buffers")
}

func (d *managerDelegate) ThrottleAccelerator() {
	d.log.Warn("throttling accelerator")
}

// noop*Source types stand in for the real OS/kernel notification bindings
// the demo binary has no access to; Next blocks until Stop closes done.
type noopAppLaunchSource struct{ done chan struct{} }

func newNoopAppLaunchSource() noopAppLaunchSource { return noopAppLaunchSource{done: make(chan struct{})} }

func (s noopAppLaunchSource) Next() (string, bool) {
	<-s.done
	return "", false
}
func (s noopAppLaunchSource) Stop() { closeOnce(s.done) }

type noopMemoryPressureSource struct{ done chan struct{} }

func newNoopMemoryPressureSource() noopMemoryPressureSource {
	return noopMemoryPressureSource{done: make(chan struct{})}
}

func (s noopMemoryPressureSource) Next() (sentinel.MemoryPressureLevel, bool) {
	<-s.done
	return 0, false
}
func (s noopMemoryPressureSource) Stop() { closeOnce(s.done) }

type noopInteractionSource struct{ done chan struct{} }

func newNoopInteractionSource() noopInteractionSource {
	return noopInteractionSource{done: make(chan struct{})}
}

func (s noopInteractionSource) Next() bool {
	<-s.done
	return false
}
func (s noopInteractionSource) Stop() { closeOnce(s.done) }

type noopThermalSource struct{ done chan struct{} }

func newNoopThermalSource() noopThermalSource { return noopThermalSource{done: make(chan struct{})} }

func (s noopThermalSource) Next() (probes.Thermal, bool) {
	<-s.done
	return probes.ThermalNominal, false
}
func (s noopThermalSource) Stop() { closeOnce(s.done) }

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
