package scaler

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/thorium-sh/thorium/pkg/config"
)

// K8sNodeCapacitySource reads NodeCapacity from the K8s node list, net of
// each node's own reservations and the scaler kind's configured reserved
// headroom and fairshare tax (spec.md §4.2 step 1: "node capacity, minus
// reserved headroom, taxed by fairshare"). Grounded on the same
// client-go dependency pkg/scaler/networkpolicy.go already wires.
type K8sNodeCapacitySource struct {
	clientset kubernetes.Interface
	cfg       config.ScalerConfig
}

// NewK8sNodeCapacitySource builds a NodeCapacitySource over an existing
// clientset, one per scaler kind.
func NewK8sNodeCapacitySource(clientset kubernetes.Interface, cfg config.ScalerConfig) *K8sNodeCapacitySource {
	return &K8sNodeCapacitySource{clientset: clientset, cfg: cfg}
}

// Nodes lists every schedulable node in the cluster, reporting capacity
// net of the scaler kind's reserved headroom and fairshare tax.
func (s *K8sNodeCapacitySource) Nodes(ctx context.Context, cluster string) ([]NodeCapacity, error) {
	list, err := s.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("scaler: listing k8s nodes: %w", err)
	}

	tax := 1 - s.cfg.FairshareTax
	if tax <= 0 || tax > 1 {
		tax = 1
	}

	out := make([]NodeCapacity, 0, len(list.Items))
	for _, n := range list.Items {
		if n.Spec.Unschedulable || !nodeReady(n) {
			continue
		}
		milliCPU := n.Status.Allocatable.Cpu().MilliValue() - s.cfg.ReservedMilliCPU
		memoryMiB := n.Status.Allocatable.Memory().Value()/(1<<20) - s.cfg.ReservedMemoryMiB
		if milliCPU <= 0 || memoryMiB <= 0 {
			continue
		}
		out = append(out, NodeCapacity{
			Cluster:   cluster,
			Node:      n.Name,
			MilliCPU:  int64(float64(milliCPU) * tax),
			MemoryMiB: int64(float64(memoryMiB) * tax),
			HostPaths: s.cfg.HostPathWhitelist,
		})
	}
	return out, nil
}

func nodeReady(n corev1.Node) bool {
	for _, c := range n.Status.Conditions {
		if c.Type == corev1.NodeReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}
