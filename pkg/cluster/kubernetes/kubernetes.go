package kubernetes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/canarymesh/canary/pkg/cluster"
)

const defaultPollInterval = 2 * time.Second

// Config holds the cluster-level conventions: which container in a
// deployment carries the application image, and which pod template
// label carries the version. The label doubles as the mesh's subset
// selector, so it has to line up with the routing rule's subsets.
type Config struct {
	// ContainerName is the container patched with new images. Empty
	// means the first container in the pod template.
	ContainerName string
	// VersionLabel is the pod template label holding the version
	// identifier. Defaults to "version", the usual mesh convention.
	VersionLabel string
	// StableSubset and CanarySubset name the routing rule's
	// destination subsets.
	StableSubset string
	CanarySubset string
	// PollInterval is how often rollout status is re-checked while
	// waiting.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.VersionLabel == "" {
		c.VersionLabel = "version"
	}
	if c.StableSubset == "" {
		c.StableSubset = "stable"
	}
	if c.CanarySubset == "" {
		c.CanarySubset = "canary"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

// Cluster is a handle to a Kubernetes API server with an Istio-style
// traffic rule alongside the deployments. (Typically, this code is
// deployed into the same cluster.)
type Cluster struct {
	client  k8sclient.Interface
	dynamic dynamic.Interface
	cfg     Config
	logger  log.Logger
}

var _ cluster.Cluster = &Cluster{}

// NewCluster returns a usable cluster.
func NewCluster(client k8sclient.Interface, dyn dynamic.Interface, cfg Config, logger log.Logger) *Cluster {
	cfg.applyDefaults()
	return &Cluster{
		client:  client,
		dynamic: dyn,
		cfg:     cfg,
		logger:  logger,
	}
}

func (c *Cluster) Ping(ctx context.Context) error {
	_, err := c.client.Discovery().ServerVersion()
	if err != nil {
		return cluster.ErrUnavailable{Err: err}
	}
	return nil
}

func (c *Cluster) GetDeployment(ctx context.Context, namespace, name string) (cluster.Deployment, error) {
	dep, err := c.client.AppsV1().Deployments(namespace).Get(name, meta_v1.GetOptions{})
	if err != nil {
		return cluster.Deployment{}, mapError(err, namespace, name, "deployment")
	}
	return deploymentFrom(dep, c.cfg), nil
}

func deploymentFrom(dep *appsv1.Deployment, cfg Config) cluster.Deployment {
	out := cluster.Deployment{
		Namespace: dep.Namespace,
		Name:      dep.Name,
		Version:   dep.Spec.Template.Labels[cfg.VersionLabel],
		Rollout: cluster.RolloutStatus{
			Updated:   int(dep.Status.UpdatedReplicas),
			Ready:     int(dep.Status.ReadyReplicas),
			Available: int(dep.Status.AvailableReplicas),
		},
	}
	if dep.Spec.Replicas != nil {
		out.Rollout.Desired = int(*dep.Spec.Replicas)
	}
	for i, container := range dep.Spec.Template.Spec.Containers {
		if i == 0 || container.Name == cfg.ContainerName {
			out.Image = container.Image
		}
		if container.Name == cfg.ContainerName {
			break
		}
	}
	return out
}

// deploymentPatch is the wire shape of the strategic merge patch
// applied to deployments.
type deploymentPatch struct {
	Spec struct {
		Replicas *int `json:"replicas,omitempty"`
		Template struct {
			Metadata struct {
				Labels map[string]string `json:"labels"`
			} `json:"metadata"`
			Spec struct {
				Containers []map[string]string `json:"containers"`
			} `json:"spec"`
		} `json:"template"`
	} `json:"spec"`
}

func (c *Cluster) PatchDeployment(ctx context.Context, namespace, name string, spec cluster.DeploymentPatch) error {
	containerName := c.cfg.ContainerName
	if containerName == "" {
		dep, err := c.client.AppsV1().Deployments(namespace).Get(name, meta_v1.GetOptions{})
		if err != nil {
			return mapError(err, namespace, name, "deployment")
		}
		if len(dep.Spec.Template.Spec.Containers) == 0 {
			return cluster.ErrUnavailable{Err: errors.Errorf("deployment %s/%s has no containers", namespace, name)}
		}
		containerName = dep.Spec.Template.Spec.Containers[0].Name
	}

	var patch deploymentPatch
	patch.Spec.Replicas = spec.Replicas
	patch.Spec.Template.Metadata.Labels = map[string]string{c.cfg.VersionLabel: spec.Version}
	patch.Spec.Template.Spec.Containers = []map[string]string{{
		"name":  containerName,
		"image": spec.Image,
	}}
	data, err := json.Marshal(patch)
	if err != nil {
		return errors.Wrap(err, "encoding deployment patch")
	}

	_, err = c.client.AppsV1().Deployments(namespace).Patch(name, types.StrategicMergePatchType, data)
	if err != nil {
		return mapError(err, namespace, name, "deployment")
	}
	c.logger.Log("patched", "deployment", "name", namespace+"/"+name, "image", spec.Image)
	return nil
}

func (c *Cluster) ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error {
	data, err := json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{"replicas": replicas},
	})
	if err != nil {
		return errors.Wrap(err, "encoding scale patch")
	}
	_, err = c.client.AppsV1().Deployments(namespace).Patch(name, types.MergePatchType, data)
	if err != nil {
		return mapError(err, namespace, name, "deployment")
	}
	c.logger.Log("scaled", "deployment", "name", namespace+"/"+name, "replicas", replicas)
	return nil
}

// WaitForRollout polls the deployment until every desired replica is
// updated and ready. Returns cluster.ErrRolloutTimeout if the
// timeout elapses first, or ctx.Err() if the caller gives up.
func (c *Cluster) WaitForRollout(ctx context.Context, namespace, name string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.PollInterval)
	defer tick.Stop()

	for {
		dep, err := c.GetDeployment(ctx, namespace, name)
		if err != nil {
			return err
		}
		if dep.Rollout.Complete() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return cluster.ErrRolloutTimeout
		case <-tick.C:
		}
	}
}

func mapError(err error, namespace, name, kind string) error {
	if apierrors.IsNotFound(err) {
		return cluster.ErrNotFound{Namespace: namespace, Name: name, Kind: kind}
	}
	return cluster.ErrUnavailable{Err: err}
}
