package artifact

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// builtinDenyFragments are substrings that disqualify a condition label from
// being offered as an answer option. These are placeholder or catch-all
// labels that give reviewers nothing to vote on.
var builtinDenyFragments = []string{
	"unknown",
	"unclear",
	"non-specific",
	"nonspecific",
	"other diagnosis",
	"not listed",
	"insufficient data",
	"no clear option",
}

// Denylist filters non-specific placeholder labels out of option selection.
type Denylist struct {
	fragments []string
}

// NewDenylist returns the built-in denylist.
func NewDenylist() *Denylist {
	return &Denylist{fragments: builtinDenyFragments}
}

// LoadDenylist reads additional deny fragments from a YAML file and merges
// them with the built-in set.
func LoadDenylist(path string) (*Denylist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read denylist %s", path)
	}

	var wrapper struct {
		Labels []string `yaml:"labels"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "artifact: parse denylist")
	}

	d := NewDenylist()
	for _, l := range wrapper.Labels {
		if n := normalizeLabel(l); n != "" {
			d.fragments = append(d.fragments, n)
		}
	}
	return d, nil
}

// Blocks reports whether the label contains any denied fragment.
func (d *Denylist) Blocks(label string) bool {
	n := normalizeLabel(label)
	if n == "" {
		return true
	}
	for _, frag := range d.fragments {
		if strings.Contains(n, frag) {
			return true
		}
	}
	return false
}

// normalizeLabel lowercases and collapses whitespace for label comparison.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
