package models

// NetworkRule is one ingress or egress rule of a Thorium network policy,
// kept provider-agnostic so it can be translated into a K8s NetworkPolicy
// spec by the scaler without the catalog depending on k8s.io types.
type NetworkRule struct {
	CIDR      string   `json:"cidr,omitempty"`
	Ports     []int32  `json:"ports,omitempty"`
	Protocols []string `json:"protocols,omitempty"`
}

// NetworkPolicy is a group-scoped network policy definition (spec.md §4.2
// network-policy reconciliation). ForcedPolicy marks a policy that attaches
// to every pod in the group regardless of per-image opt-in.
type NetworkPolicy struct {
	ID           string        `json:"id"`
	Group        string        `json:"group"`
	Name         string        `json:"name"`
	Ingress      []NetworkRule `json:"ingress,omitempty"`
	Egress       []NetworkRule `json:"egress,omitempty"`
	ForcedPolicy bool          `json:"forced_policy"`
}
