package patches

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
)

// RuleSource looks patches up by rule version and by status.
type RuleSource interface {
	FindByVersion(ctx context.Context, version int64) (*RulePatch, error)
	WithStatus(ctx context.Context, status Status) ([]RulePatch, error)
}

// ContextBuilder renders the rule set of a version as scoring context. Rule
// versions are cumulative: version N is every deployed patch up to N plus
// N's own patch and everything it depends on, lowest version first. It
// implements grading.ContextBuilder.
type ContextBuilder struct {
	patches RuleSource
	cache   sync.Map // int64 -> rendered
}

type rendered struct {
	deployed string
	text     string
}

func NewContextBuilder(patches RuleSource) *ContextBuilder {
	return &ContextBuilder{patches: patches}
}

var _ grading.ContextBuilder = (*ContextBuilder)(nil)

func (b *ContextBuilder) BuildContext(ctx context.Context, req grading.Request) (string, error) {
	if req.RuleVersion <= 0 {
		return "", nil
	}

	deployed, err := b.patches.WithStatus(ctx, StatusDeployed)
	if err != nil {
		return "", fmt.Errorf("load deployed patches: %w", err)
	}
	base := slices.DeleteFunc(deployed, func(p RulePatch) bool { return p.Version > req.RuleVersion })
	key := fingerprint(base)

	if v, ok := b.cache.Load(req.RuleVersion); ok && v.(rendered).deployed == key {
		return v.(rendered).text, nil
	}

	chain, err := b.resolve(ctx, base, req.RuleVersion)
	if err != nil {
		return "", err
	}
	text := render(chain)
	b.cache.Store(req.RuleVersion, rendered{deployed: key, text: text})
	return text, nil
}

// resolve adds version and its dependency closure to the deployed base.
// Versions without a patch contribute nothing.
func (b *ContextBuilder) resolve(ctx context.Context, base []RulePatch, version int64) ([]RulePatch, error) {
	seen := make(map[int64]bool, len(base))
	chain := slices.Clone(base)
	for _, p := range base {
		seen[p.Version] = true
	}

	queue := []int64{version}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if seen[v] || v <= 0 {
			continue
		}
		seen[v] = true

		p, err := b.patches.FindByVersion(ctx, v)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load patch version %d: %w", v, err)
		}
		chain = append(chain, *p)
		queue = append(queue, p.DependsOn...)
	}

	slices.SortFunc(chain, func(a, b RulePatch) int { return cmp.Compare(a.Version, b.Version) })
	return chain, nil
}

func fingerprint(ps []RulePatch) string {
	vs := make([]string, len(ps))
	for i, p := range ps {
		vs[i] = strconv.FormatInt(p.Version, 10)
	}
	slices.Sort(vs)
	return strings.Join(vs, ",")
}

func render(chain []RulePatch) string {
	var sb strings.Builder
	for i, p := range chain {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[v%d %s %s/%s]\n%s", p.Version, p.Type, p.Content.Target, p.Content.Operation, p.Content.Text)
		for _, e := range p.Content.Examples {
			fmt.Fprintf(&sb, "\n- %q normalized %q: expected %.2f, not %.2f",
				e.Input, e.Normalized, e.ExpectedScore, e.GradedScore)
		}
	}
	return sb.String()
}
