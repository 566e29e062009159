package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"k8s.io/client-go/dynamic"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/canarymesh/canary/pkg/cluster/kubernetes"
	"github.com/canarymesh/canary/pkg/daemon"
	"github.com/canarymesh/canary/pkg/event"
	httpdaemon "github.com/canarymesh/canary/pkg/http/daemon"
	"github.com/canarymesh/canary/pkg/probe"
	"github.com/canarymesh/canary/pkg/release"
	"github.com/canarymesh/canary/pkg/traffic"
)

var version = "unversioned"

const shutdownTimeout = 10 * time.Second

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  canaryd is a canary release daemon.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}
	var (
		listenAddr = fs.StringP("listen", "l", ":3040", "listen address for canaryctl clients, and /metrics")
		configFile = fs.String("config", "", "path to a YAML config file; flags override it")
		kubeconfig = fs.String("kubeconfig", "", "path to a kubeconfig; if unset, in-cluster config is used")

		namespace        = fs.String("namespace", "", "namespace the release lives in")
		stableDeployment = fs.String("stable-deployment", "", "name of the stable deployment")
		canaryDeployment = fs.String("canary-deployment", "", "name of the canary deployment")
		trafficRule      = fs.String("traffic-rule", "", "name of the routing rule (VirtualService) holding the weight split")
		imageRepository  = fs.String("image-repository", "", "image repository, without tag, the deployments run")
		probeTarget      = fs.String("probe-target", "", "URL probed during validation, e.g. the mesh gateway")
		showVersion      = fs.Bool("version", false, "print the version and exit")
	)
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Logger domain.
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	logger.Log("version", version)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	// flags override the config file
	if *namespace != "" {
		cfg.Namespace = *namespace
	}
	if *stableDeployment != "" {
		cfg.StableDeployment = *stableDeployment
	}
	if *canaryDeployment != "" {
		cfg.CanaryDeployment = *canaryDeployment
	}
	if *trafficRule != "" {
		cfg.TrafficRule = *trafficRule
	}
	if *imageRepository != "" {
		cfg.ImageRepository = *imageRepository
	}
	if *probeTarget != "" {
		cfg.ProbeTarget = *probeTarget
	}
	if cfg.ImageRepository == "" {
		logger.Log("err", "an image repository must be configured (--image-repository or config file)")
		os.Exit(1)
	}
	if cfg.ProbeTarget == "" {
		logger.Log("err", "a probe target must be configured (--probe-target or config file)")
		os.Exit(1)
	}

	// Cluster component.
	var k8s *kubernetes.Cluster
	{
		logger := log.With(logger, "component", "cluster")

		var restConfig *rest.Config
		var err error
		if *kubeconfig != "" {
			restConfig, err = clientcmd.BuildConfigFromFlags("", *kubeconfig)
		} else {
			restConfig, err = rest.InClusterConfig()
		}
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}

		clientset, err := k8sclient.NewForConfig(restConfig)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		dyn, err := dynamic.NewForConfig(restConfig)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}

		k8s = kubernetes.NewCluster(clientset, dyn, kubernetes.Config{
			ContainerName: cfg.ContainerName,
			VersionLabel:  cfg.VersionLabel,
			StableSubset:  cfg.StableSubset,
			CanarySubset:  cfg.CanarySubset,
		}, logger)

		if err := k8s.Ping(context.Background()); err != nil {
			logger.Log("connectivity", err)
		} else {
			logger.Log("connectivity", "ok", "namespace", cfg.Namespace)
		}
	}

	// Event log component.
	eventLog := event.NewRingWriter(cfg.EventLogSize)
	events := event.NewBestEffortWriter(event.MultiWriter{
		eventLog,
		event.LogWriter{Logger: log.With(logger, "component", "events")},
	})
	go func() {
		for err := range events.Errors() {
			logger.Log("component", "events", "err", err)
		}
	}()

	// Release controller.
	tm := traffic.NewManager(k8s, cfg.Namespace, cfg.TrafficRule, log.With(logger, "component", "traffic"))
	prober := probe.NewProber(probe.Config{
		Target:            cfg.ProbeTarget,
		ForceCanaryHeader: cfg.ForceCanaryHeader,
		ForceCanaryValue:  cfg.ForceCanaryValue,
		Timeout:           time.Duration(cfg.ProbeTimeout),
		Interval:          time.Duration(cfg.ProbeInterval),
		Concurrency:       cfg.ProbeConcurrency,
	}, log.With(logger, "component", "probe"))
	controller := release.NewController(k8s, tm, prober, events, release.Config{
		Namespace:        cfg.Namespace,
		StableDeployment: cfg.StableDeployment,
		CanaryDeployment: cfg.CanaryDeployment,
		TrafficRule:      cfg.TrafficRule,
		ImageRepository:  cfg.ImageRepository,
		CanaryReplicas:   cfg.CanaryReplicas,
		RolloutTimeout:   time.Duration(cfg.RolloutTimeout),
	}, log.With(logger, "component", "release"))

	d := &daemon.Daemon{
		Controller: controller,
		Cluster:    k8s,
		EventLog:   eventLog,
		V:          version,
		Logger:     log.With(logger, "component", "daemon"),
	}

	// HTTP transport component.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", httpdaemon.NewHandler(d, httpdaemon.NewRouter()))
	srv := &http.Server{Addr: *listenAddr, Handler: mux}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		logger.Log("addr", *listenAddr)
		errc <- srv.ListenAndServe()
	}()

	logger.Log("exiting", <-errc)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Shutdown(ctx)
}
