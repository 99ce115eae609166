package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/lodtree/chunk"
	"github.com/aukilabs/lodtree/featureflag"
	lodhttp "github.com/aukilabs/lodtree/http"
	"github.com/aukilabs/lodtree/lod"
	"github.com/aukilabs/lodtree/models"
	"github.com/aukilabs/lodtree/smoketest"
	lodws "github.com/aukilabs/lodtree/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/time/rate"
)

var (
	// The lodtree version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "lodtree_info",
		Help:        "Lodtree information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"LODTREE_ADDR"                 help:"Listening address for viewer connections."`
	AdminAddr          string        `cli:""        env:"LODTREE_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"LODTREE_PUBLIC_ENDPOINT"      help:"The public endpoint where this server is reachable."`
	LogLevel           string        `cli:""        env:"LODTREE_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"LODTREE_LOG_INDENT"           help:"Indent logs."`
	RequireClientID    bool          `cli:",hidden" env:"LODTREE_REQUIRE_CLIENT_ID"    help:"Reject viewers that do not send a client id."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"LODTREE_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected"`
	FrameDuration      time.Duration `cli:",hidden" env:"LODTREE_FRAME_DURATION"       help:"The duration of a world frame."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"LODTREE_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	World              worldConfig   `cli:",hidden" env:"-"                            help:"World layout configuration."`
	Queue              queueConfig   `cli:",hidden" env:"-"                            help:"Chunk build queue configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                            help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"LODTREE_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                            help:"Show version."`
	Help               bool          `cli:""        env:"-"                            help:"Show help."`
}

type worldConfig struct {
	MinChunkSize  int64 `cli:",hidden" env:"LODTREE_WORLD_MIN_CHUNK_SIZE"  help:"The edge length of the most detailed chunks."`
	MaxDepth      int   `cli:",hidden" env:"LODTREE_WORLD_MAX_DEPTH"       help:"The number of levels between a root and the most detailed chunks."`
	BalanceFactor int   `cli:",hidden" env:"LODTREE_WORLD_BALANCE_FACTOR"  help:"The number of rings of distance before node size doubles."`
	MinRadius     int64 `cli:",hidden" env:"LODTREE_WORLD_MIN_RADIUS"      help:"The distance around a viewer where full detail is guaranteed."`
}

type queueConfig struct {
	Workers     int           `cli:",hidden" env:"LODTREE_QUEUE_WORKERS"      help:"The number of chunks generated concurrently by viewer."`
	Rate        float64       `cli:",hidden" env:"LODTREE_QUEUE_RATE"         help:"The number of chunks per second a viewer can start generating. 0 means no limit."`
	Burst       int           `cli:",hidden" env:"LODTREE_QUEUE_BURST"        help:"The number of chunks a viewer can start generating at once."`
	DetailDelay time.Duration `cli:",hidden" env:"LODTREE_QUEUE_DETAIL_DELAY" help:"The simulated generation time of a detail chunk."`
	ProxyDelay  time.Duration `cli:",hidden" env:"LODTREE_QUEUE_PROXY_DELAY"  help:"The simulated generation time of a proxy chunk."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"LODTREE_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"LODTREE_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"LODTREE_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"LODTREE_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	defaultWorld := lod.DefaultConfig()

	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 15,
		LogSummaryInterval: time.Minute,
		World: worldConfig{
			MinChunkSize:  defaultWorld.MinChunkSize,
			MaxDepth:      defaultWorld.MaxDepth,
			BalanceFactor: defaultWorld.BalanceFactor,
			MinRadius:     defaultWorld.MinRadius,
		},
		Queue: queueConfig{
			Workers:     4,
			Burst:       16,
			DetailDelay: time.Millisecond * 20,
			ProxyDelay:  time.Millisecond * 5,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts a lodtree server that streams level of detail worlds to viewers.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	world := lod.Config{
		Name:          "viewer",
		MinChunkSize:  conf.World.MinChunkSize,
		MaxDepth:      conf.World.MaxDepth,
		BalanceFactor: conf.World.BalanceFactor,
		MinRadius:     conf.World.MinRadius,
	}

	if err := validateConfig(conf, world); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "lodtree",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	queue := chunk.QueueOptions{
		Workers: conf.Queue.Workers,
		Rate:    rate.Limit(conf.Queue.Rate),
		Burst:   conf.Queue.Burst,
		Generator: chunk.DelayGenerator{
			Detail: conf.Queue.DetailDelay,
			Proxy:  conf.Queue.ProxyDelay,
		},
	}

	var viewers models.ViewerStore
	flags := featureflag.New(conf.FeatureFlags)

	var service http.ServeMux

	service.Handle("/", lodws.Server(ctx, lodhttp.VerifyClientID(conf.RequireClientID), func() lodws.Handler {
		var h lodws.Handler = &lodws.RealtimeHandler{
			ClientIdleTimeout: conf.ClientIdleTimeout,
			FrameDuration:     conf.FrameDuration,
			World:             world,
			Queue:             queue,
			Viewers:           &viewers,
			FeatureFlags:      flags,
		}
		h = lodws.HandlerWithLogs(h, conf.LogSummaryInterval)
		h = lodws.HandlerWithMetrics(h, conf.PublicEndpoint)
		return h
	}))

	readinessCheck := func() bool {
		return ctx.Err() == nil
	}

	service.HandleFunc("/health", lodhttp.HandleHealthCheck)
	service.HandleFunc("/ready", lodhttp.HandleReadyCheck(readinessCheck))
	service.HandleFunc("/version", lodhttp.HandleVersion(version))
	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("Lodtree %s", version),
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			entry := logs.WithTag("from_endpoint", res.FromEndpoint).
				WithTag("to_endpoint", res.ToEndpoint).
				WithTag("latency_ms", res.LatencyMilliSec)

			if res.Status != smoketest.StatusSuccess {
				entry.Warn(errors.New("smoke test failed"))
				return nil
			}
			entry.Info("smoke test succeeded")
			return nil
		},
	}))

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", lodhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/viewers", lodhttp.HandleViewers(&viewers))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", lodhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("world", world).
		WithTag("roots", world.RootCount()).
		WithTag("node_capacity", world.Capacity()).
		Info("starting lodtree server")

	lodhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			lodhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func validateConfig(conf config, world lod.Config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive").
			WithTag("frame_duration", conf.FrameDuration)
	}

	if conf.Queue.Rate < 0 {
		return errors.New("queue rate must not be negative").
			WithTag("rate", conf.Queue.Rate)
	}

	return world.Validate()
}
