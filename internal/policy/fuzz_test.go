package policy

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func FuzzValidatePattern(f *testing.F) {
	f.Add(`^docker\s+rm`)
	f.Add(`(a+)+`)
	f.Add(`([`)
	f.Add("")

	f.Fuzz(func(t *testing.T, pattern string) {
		rc := NewRegexCache(nil)
		// Must not panic, and a rejected pattern must never match.
		_, err := rc.Compile(pattern)
		if err != nil && rc.MatchString(pattern, pattern) {
			t.Errorf("rejected pattern %q matched", pattern)
		}
	})
}

func FuzzDecodePolicies(f *testing.F) {
	f.Add([]byte(dockerPolicy))
	f.Add([]byte(nightPolicy))
	f.Add([]byte(`[{id: a, rules: [{conditions: [{type: not, condition: {type: any, conditions: []}}], effect: {action: deny}}]}]`))
	f.Add([]byte{})
	f.Add([]byte(`{{{not yaml at all`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var ps []Policy
		if err := yaml.Unmarshal(data, &ps); err != nil {
			return
		}
		// Must not panic on any decodable input.
		Compile(ps, nil, nil)
	})
}
