package scaler

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/crane"
)

// digestProbe resolves a container image reference to its registry digest,
// the scaler cache's optional "container-image digests fetched via an
// external registry probe" (spec.md §4.2). Kept as an interface so tests
// can stub it without reaching an actual registry.
type digestProbe interface {
	Digest(ctx context.Context, ref string) (string, error)
}

// craneProbe is the real digestProbe, backed by go-containerregistry's
// crane package (SPEC_FULL.md §B, grounded on jordigilh-kubernaut's use of
// the library).
type craneProbe struct {
	opts []crane.Option
}

// newCraneProbe builds a digestProbe against the default (or configured)
// registry transport.
func newCraneProbe(opts ...crane.Option) *craneProbe {
	return &craneProbe{opts: opts}
}

// NewDigestProbe builds the registry digest probe New's digests
// parameter expects, exported for cmd/scaler's wiring.
func NewDigestProbe(opts ...crane.Option) interface {
	Digest(ctx context.Context, ref string) (string, error)
} {
	return newCraneProbe(opts...)
}

func (p *craneProbe) Digest(ctx context.Context, ref string) (string, error) {
	digest, err := crane.Digest(ref, append(p.opts, crane.WithContext(ctx))...)
	if err != nil {
		return "", fmt.Errorf("scaler: resolving digest for %s: %w", ref, err)
	}
	return digest, nil
}
