package main

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

// config holds the policy knobs that used to be magic numbers in the
// deployment scripts. Everything here has a working default; a YAML
// file given with --config overrides the defaults, and flags
// override the file.
type config struct {
	Namespace        string `json:"namespace"`
	StableDeployment string `json:"stableDeployment"`
	CanaryDeployment string `json:"canaryDeployment"`
	TrafficRule      string `json:"trafficRule"`
	ImageRepository  string `json:"imageRepository"`
	ContainerName    string `json:"containerName"`
	VersionLabel     string `json:"versionLabel"`
	StableSubset     string `json:"stableSubset"`
	CanarySubset     string `json:"canarySubset"`

	CanaryReplicas int      `json:"canaryReplicas"`
	RolloutTimeout duration `json:"rolloutTimeout"`

	ProbeTarget       string   `json:"probeTarget"`
	ProbeTimeout      duration `json:"probeTimeout"`
	ProbeInterval     duration `json:"probeInterval"`
	ProbeConcurrency  int      `json:"probeConcurrency"`
	ForceCanaryHeader string   `json:"forceCanaryHeader"`
	ForceCanaryValue  string   `json:"forceCanaryValue"`

	EventLogSize int `json:"eventLogSize"`
}

// duration lets config files write durations the way flags do, e.g.
// "5m" rather than nanosecond integers.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return errors.New("duration must be a string like \"30s\" or a nanosecond count")
		}
		*d = duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func defaultConfig() config {
	return config{
		Namespace:        "default",
		StableDeployment: "app",
		CanaryDeployment: "app-canary",
		TrafficRule:      "app",
		CanaryReplicas:   1,
		RolloutTimeout:   duration(5 * time.Minute),
		ProbeTimeout:     duration(5 * time.Second),
		ProbeConcurrency: 4,
		EventLogSize:     256,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config file %s", path)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config file %s", path)
	}
	return cfg, nil
}
