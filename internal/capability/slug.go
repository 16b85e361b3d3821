package capability

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/value"
)

// SlugModel stores a URL-safe form of the input text: accents stripped, lower case,
// runs of other characters collapsed to "-".
type SlugModel struct{}

func (SlugModel) Prepare(_ context.Context, code string, v value.Value) (Item, error) {
	slug, err := Slugify(v.String())
	if err != nil {
		return nil, errors.Wrapf(err, "slug %s", code)
	}
	return &SlugItem{Source: v.String(), Slug: slug}, nil
}

// Slugify converts s to its slug form.
func Slugify(s string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, s)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(plain) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-"), nil
}

// SlugItem is a prepared slug value.
type SlugItem struct {
	Source string
	Slug   string
}

func (*SlugItem) Kind() value.Kind { return value.KindItem }

func (s *SlugItem) String() string { return s.Slug }

func (s *SlugItem) Validate(_ context.Context, _ int64, _ *element.Element) Outcome {
	if s.Slug == "" {
		return FailOutcome(fmt.Sprintf("Cannot build slug from %q", s.Source))
	}
	return KeepOutcome()
}

func (s *SlugItem) Update(ctx context.Context, _ *UpdateContext, code string, t Target) (bool, error) {
	if t.Stage == nil {
		return false, errors.Newf("slug %s: no stage function", code)
	}
	return t.Stage(ctx, code, value.Text(s.Slug))
}
