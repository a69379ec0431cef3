package models

// DefaultSLASeconds is the spec-mandated default pipeline SLA (7 days).
const DefaultSLASeconds = 604800

// Stage is one set of images that run in parallel within a pipeline.
type Stage struct {
	Images []string `json:"images"`
}

// Pipeline is an ordered sequence of parallel stages scoped to a group.
type Pipeline struct {
	Group      string   `json:"group"`
	Name       string   `json:"name"`
	Order      []Stage  `json:"order"`
	SLASeconds int64    `json:"sla_seconds"`
	Triggers   []string `json:"triggers,omitempty"`
	Bans       []string `json:"bans,omitempty"`
}

// Banned reports whether the pipeline carries a derived ban, either its own
// or inherited from any image it references.
func (p *Pipeline) Banned() bool {
	return len(p.Bans) > 0
}

// Key uniquely identifies a pipeline within a cluster.
func (p *Pipeline) Key() string {
	return p.Group + "/" + p.Name
}

// StageCount returns the number of stages in the pipeline's order.
func (p *Pipeline) StageCount() int {
	return len(p.Order)
}

// DeriveBans recomputes Bans as the union of the pipeline's own bans and the
// bans carried by every image referenced across its stages. imageBans maps an
// image name to its current ban set.
func (p *Pipeline) DeriveBans(own []string, imageBans func(name string) []string) {
	bans := append([]string{}, own...)
	for _, stage := range p.Order {
		for _, img := range stage.Images {
			bans = append(bans, imageBans(img)...)
		}
	}
	p.Bans = dedupe(bans)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
