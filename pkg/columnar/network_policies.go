package columnar

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/thorium-sh/thorium/pkg/models"
)

// ErrNetworkPolicyNotFound reports a missing network policy row.
var ErrNetworkPolicyNotFound = errors.New("columnar: network policy not found")

// NetworkPolicies is the durable store of group-scoped network policy
// definitions the scaler's K8s reconciler materializes (spec.md §4.2).
type NetworkPolicies struct {
	db *sqlx.DB
}

func (c *Client) NetworkPolicies() *NetworkPolicies {
	return &NetworkPolicies{db: c.db}
}

type networkPolicyRow struct {
	ID           string `db:"id"`
	Group        string `db:"grp"`
	Name         string `db:"name"`
	Ingress      []byte `db:"ingress"`
	Egress       []byte `db:"egress"`
	ForcedPolicy bool   `db:"forced_policy"`
}

func (r networkPolicyRow) toModel() (models.NetworkPolicy, error) {
	p := models.NetworkPolicy{ID: r.ID, Group: r.Group, Name: r.Name, ForcedPolicy: r.ForcedPolicy}
	if len(r.Ingress) > 0 {
		if err := json.Unmarshal(r.Ingress, &p.Ingress); err != nil {
			return p, fmt.Errorf("columnar: decode network policy %s ingress: %w", r.ID, err)
		}
	}
	if len(r.Egress) > 0 {
		if err := json.Unmarshal(r.Egress, &p.Egress); err != nil {
			return p, fmt.Errorf("columnar: decode network policy %s egress: %w", r.ID, err)
		}
	}
	return p, nil
}

// Put upserts a network policy definition.
func (n *NetworkPolicies) Put(ctx context.Context, p models.NetworkPolicy) error {
	ingress, _ := json.Marshal(p.Ingress)
	egress, _ := json.Marshal(p.Egress)
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO network_policies (id, grp, name, ingress, egress, forced_policy)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET grp=$2, name=$3, ingress=$4, egress=$5, forced_policy=$6`,
		p.ID, p.Group, p.Name, ingress, egress, p.ForcedPolicy,
	)
	if err != nil {
		return fmt.Errorf("columnar: put network policy %s: %w", p.ID, err)
	}
	return nil
}

// ByGroup lists every network policy defined for a group, the scaler
// cache reload's per-namespace input.
func (n *NetworkPolicies) ByGroup(ctx context.Context, group string) ([]models.NetworkPolicy, error) {
	var rows []networkPolicyRow
	if err := n.db.SelectContext(ctx, &rows, `SELECT * FROM network_policies WHERE grp = $1 ORDER BY name`, group); err != nil {
		return nil, fmt.Errorf("columnar: list network policies for %s: %w", group, err)
	}
	out := make([]models.NetworkPolicy, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Get retrieves a single network policy by id.
func (n *NetworkPolicies) Get(ctx context.Context, id string) (models.NetworkPolicy, error) {
	var row networkPolicyRow
	err := n.db.GetContext(ctx, &row, `SELECT * FROM network_policies WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NetworkPolicy{}, ErrNetworkPolicyNotFound
	}
	if err != nil {
		return models.NetworkPolicy{}, fmt.Errorf("columnar: get network policy %s: %w", id, err)
	}
	return row.toModel()
}

// Delete removes a network policy by id.
func (n *NetworkPolicies) Delete(ctx context.Context, id string) error {
	_, err := n.db.ExecContext(ctx, `DELETE FROM network_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("columnar: delete network policy %s: %w", id, err)
	}
	return nil
}
