package kubernetes

import (
	"context"
	"encoding/json"

	"github.com/Jeffail/gabs"
	"github.com/pkg/errors"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/canarymesh/canary/pkg/cluster"
)

// The traffic rule is an Istio VirtualService. It is read and
// written as unstructured JSON so this package does not need the
// whole Istio client machinery for the two fields it touches.
var virtualServiceResource = schema.GroupVersionResource{
	Group:    "networking.istio.io",
	Version:  "v1alpha3",
	Resource: "virtualservices",
}

func (c *Cluster) GetTrafficRule(ctx context.Context, namespace, name string) (cluster.Weights, error) {
	vs, err := c.dynamic.Resource(virtualServiceResource).Namespace(namespace).Get(name, meta_v1.GetOptions{})
	if err != nil {
		return cluster.Weights{}, mapError(err, namespace, name, "virtualservice")
	}
	parsed, err := parseVirtualService(vs)
	if err != nil {
		return cluster.Weights{}, err
	}
	route, err := weightedRoute(parsed)
	if err != nil {
		return cluster.Weights{}, malformed(namespace, name, err)
	}
	w, err := c.readWeights(route)
	if err != nil {
		return cluster.Weights{}, malformed(namespace, name, err)
	}
	return w, nil
}

// malformed tags a structural problem with the rule, so readers can
// fall back to the default split rather than failing.
func malformed(namespace, name string, err error) error {
	return cluster.ErrMalformedRule{Namespace: namespace, Name: name, Reason: err.Error()}
}

// PatchTrafficRule rewrites the weighted route's destination
// weights. Header-match routes (the "force canary" override) are
// left untouched, so the override stays independent of the split.
func (c *Cluster) PatchTrafficRule(ctx context.Context, namespace, name string, weights cluster.Weights) error {
	vsClient := c.dynamic.Resource(virtualServiceResource).Namespace(namespace)
	vs, err := vsClient.Get(name, meta_v1.GetOptions{})
	if err != nil {
		return mapError(err, namespace, name, "virtualservice")
	}
	parsed, err := parseVirtualService(vs)
	if err != nil {
		return err
	}
	entry, err := weightedRoute(parsed)
	if err != nil {
		return malformed(namespace, name, err)
	}

	host, err := routeHost(entry)
	if err != nil {
		return malformed(namespace, name, err)
	}
	newRoutes := []interface{}{
		destinationRoute(host, c.cfg.StableSubset, weights.Stable),
		destinationRoute(host, c.cfg.CanarySubset, weights.Canary),
	}
	if _, err := entry.Set(newRoutes, "route"); err != nil {
		return errors.Wrap(err, "setting weighted routes")
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(parsed.Bytes(), &obj); err != nil {
		return errors.Wrap(err, "re-encoding virtualservice")
	}
	vs.Object = obj
	if _, err := vsClient.Update(vs, meta_v1.UpdateOptions{}); err != nil {
		return mapError(err, namespace, name, "virtualservice")
	}
	c.logger.Log("patched", "virtualservice", "name", namespace+"/"+name, "stable", weights.Stable, "canary", weights.Canary)
	return nil
}

func parseVirtualService(vs *unstructured.Unstructured) (*gabs.Container, error) {
	raw, err := json.Marshal(vs.Object)
	if err != nil {
		return nil, errors.Wrap(err, "encoding virtualservice")
	}
	parsed, err := gabs.ParseJSON(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing virtualservice")
	}
	return parsed, nil
}

// weightedRoute finds the http entry carrying the weight split: the
// one without a match clause. Entries with matches are overrides and
// belong to the mesh configuration, not to the weight manager.
func weightedRoute(parsed *gabs.Container) (*gabs.Container, error) {
	entries, err := parsed.Path("spec.http").Children()
	if err != nil {
		return nil, errors.New("virtualservice has no http routes")
	}
	for _, entry := range entries {
		if !entry.Exists("match") {
			return entry, nil
		}
	}
	return nil, errors.New("virtualservice has no weighted (match-less) http route")
}

func (c *Cluster) readWeights(entry *gabs.Container) (cluster.Weights, error) {
	routes, err := entry.Path("route").Children()
	if err != nil || len(routes) == 0 {
		return cluster.Weights{}, errors.New("weighted route has no destinations")
	}
	// a single destination with no weight field means all traffic
	if len(routes) == 1 && !routes[0].Exists("weight") {
		subset, _ := routes[0].Path("destination.subset").Data().(string)
		if subset == c.cfg.CanarySubset {
			return cluster.Weights{Stable: 0, Canary: 100}, nil
		}
		return cluster.AllStable, nil
	}
	var w cluster.Weights
	for _, route := range routes {
		subset, _ := route.Path("destination.subset").Data().(string)
		weight, _ := route.Path("weight").Data().(float64)
		switch subset {
		case c.cfg.StableSubset:
			w.Stable = int(weight)
		case c.cfg.CanarySubset:
			w.Canary = int(weight)
		}
	}
	return w, nil
}

func routeHost(entry *gabs.Container) (string, error) {
	routes, err := entry.Path("route").Children()
	if err != nil || len(routes) == 0 {
		return "", errors.New("weighted route has no destinations")
	}
	host, ok := routes[0].Path("destination.host").Data().(string)
	if !ok || host == "" {
		return "", errors.New("weighted route destination has no host")
	}
	return host, nil
}

func destinationRoute(host, subset string, weight int) map[string]interface{} {
	return map[string]interface{}{
		"destination": map[string]interface{}{
			"host":   host,
			"subset": subset,
		},
		"weight": weight,
	}
}
