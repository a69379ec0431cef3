package scaler

import (
	"context"
	"fmt"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
)

// NetworkPolicyReconciler materializes Thorium network policies as K8s
// NetworkPolicy objects, one per Thorium policy plus the scaler's
// configured base policies per managed namespace (spec.md §4.2). Grounded
// on the go-containerregistry/client-go dependency pair that only
// jordigilh-kubernaut's go.mod names in the retrieval pack; no in-pack
// source shows client-go usage, so this follows the library's documented
// public API directly (see DESIGN.md).
type NetworkPolicyReconciler struct {
	clientset kubernetes.Interface
	cfg       config.ScalerConfig
	log       *slog.Logger
}

// NewNetworkPolicyReconciler builds a reconciler over an existing
// clientset (built by the caller from in-cluster or kubeconfig config).
func NewNetworkPolicyReconciler(clientset kubernetes.Interface, cfg config.ScalerConfig) *NetworkPolicyReconciler {
	return &NetworkPolicyReconciler{clientset: clientset, cfg: cfg, log: slog.With("component", "scaler", "subsystem", "network_policy")}
}

// k8sName derives a deterministic K8s object name from a Thorium policy
// id, so re-reconciling never creates a duplicate under a different name.
func k8sName(id string) string {
	return "thorium-" + id
}

// Reconcile applies one group's current policy set (plus the configured
// base policies) to a namespace: every policy in current is deleted (if
// present) and created again, whether or not it changed (spec.md §4.2
// "updates are delete then create"), and policies named in removed are
// deleted outright.
func (r *NetworkPolicyReconciler) Reconcile(ctx context.Context, namespace string, group string, current []models.NetworkPolicy, removed []string) error {
	api := r.clientset.NetworkingV1().NetworkPolicies(namespace)

	for _, id := range removed {
		name := k8sName(id)
		if err := api.Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("scaler: deleting network policy %s: %w", name, err)
		}
		r.log.Info("deleted network policy", slog.String("namespace", namespace), slog.String("id", id))
	}

	for _, p := range current {
		spec := toK8sSpec(group, p)
		name := k8sName(p.ID)
		obj := &networkingv1.NetworkPolicy{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: namespace,
				Labels: map[string]string{
					"thorium.io/group":  group,
					"thorium.io/policy": p.ID,
				},
			},
			Spec: spec,
		}

		if err := api.Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("scaler: deleting stale network policy %s before recreate: %w", name, err)
		}
		if _, err := api.Create(ctx, obj, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("scaler: creating network policy %s: %w", name, err)
		}
	}

	for _, base := range r.cfg.BasePolicies {
		if err := r.applyBasePolicy(ctx, namespace, base); err != nil {
			return err
		}
	}
	return nil
}

// applyBasePolicy materializes one of the scaler's unconditional
// namespace-wide base policies by name. "deny-all-ingress" and
// "allow-dns" are the two the default config ships (pkg/config/defaults.go);
// unrecognized names are a config error the operator must fix, not
// silently skipped.
func (r *NetworkPolicyReconciler) applyBasePolicy(ctx context.Context, namespace, name string) error {
	api := r.clientset.NetworkingV1().NetworkPolicies(namespace)
	objName := "thorium-base-" + name

	var spec networkingv1.NetworkPolicySpec
	switch name {
	case "deny-all-ingress":
		spec = networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
		}
	case "allow-dns":
		udp := corev1Protocol("UDP")
		port := intstr.FromInt(53)
		spec = networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress},
			Egress: []networkingv1.NetworkPolicyEgressRule{{
				Ports: []networkingv1.NetworkPolicyPort{{Protocol: &udp, Port: &port}},
			}},
		}
	default:
		return fmt.Errorf("scaler: unrecognized base_policies entry %q", name)
	}

	obj := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{Name: objName, Namespace: namespace, Labels: map[string]string{"thorium.io/base-policy": name}},
		Spec:       spec,
	}
	if _, err := api.Get(ctx, objName, metav1.GetOptions{}); err == nil {
		return nil // already applied; base policies never change shape at runtime
	} else if !apierrors.IsNotFound(err) {
		return fmt.Errorf("scaler: checking base policy %s: %w", objName, err)
	}
	if _, err := api.Create(ctx, obj, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("scaler: creating base policy %s: %w", objName, err)
	}
	return nil
}

// toK8sSpec translates a provider-agnostic NetworkPolicy into a K8s
// NetworkPolicySpec scoped to the group's pods via a label selector every
// scaler-spawned pod in the group carries.
func toK8sSpec(group string, p models.NetworkPolicy) networkingv1.NetworkPolicySpec {
	spec := networkingv1.NetworkPolicySpec{
		PodSelector: metav1.LabelSelector{MatchLabels: map[string]string{"thorium.io/group": group}},
	}
	if len(p.Ingress) > 0 {
		spec.PolicyTypes = append(spec.PolicyTypes, networkingv1.PolicyTypeIngress)
		for _, rule := range p.Ingress {
			spec.Ingress = append(spec.Ingress, toK8sIngressRule(rule))
		}
	}
	if len(p.Egress) > 0 {
		spec.PolicyTypes = append(spec.PolicyTypes, networkingv1.PolicyTypeEgress)
		for _, rule := range p.Egress {
			spec.Egress = append(spec.Egress, toK8sEgressRule(rule))
		}
	}
	return spec
}

func toK8sIngressRule(rule models.NetworkRule) networkingv1.NetworkPolicyIngressRule {
	return networkingv1.NetworkPolicyIngressRule{
		From:  toK8sPeers(rule.CIDR),
		Ports: toK8sPorts(rule),
	}
}

func toK8sEgressRule(rule models.NetworkRule) networkingv1.NetworkPolicyEgressRule {
	return networkingv1.NetworkPolicyEgressRule{
		To:    toK8sPeers(rule.CIDR),
		Ports: toK8sPorts(rule),
	}
}

func toK8sPeers(cidr string) []networkingv1.NetworkPolicyPeer {
	if cidr == "" {
		return nil
	}
	return []networkingv1.NetworkPolicyPeer{{IPBlock: &networkingv1.IPBlock{CIDR: cidr}}}
}

func toK8sPorts(rule models.NetworkRule) []networkingv1.NetworkPolicyPort {
	var ports []networkingv1.NetworkPolicyPort
	protocols := rule.Protocols
	if len(protocols) == 0 {
		protocols = []string{"TCP"}
	}
	for _, proto := range protocols {
		p := corev1Protocol(proto)
		if len(rule.Ports) == 0 {
			ports = append(ports, networkingv1.NetworkPolicyPort{Protocol: &p})
			continue
		}
		for _, port := range rule.Ports {
			v := intstr.FromInt(int(port))
			ports = append(ports, networkingv1.NetworkPolicyPort{Protocol: &p, Port: &v})
		}
	}
	return ports
}

func corev1Protocol(proto string) corev1.Protocol {
	return corev1.Protocol(proto)
}
