package retrack

import (
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v2"
	"gotest.tools/v3/assert"
)

func getCurrentDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Dir(filename)
}

// patternSpec is the recursive pattern description used by the testdata
// corpus. Exactly one combinator must be set per node.
type patternSpec struct {
	Empty    bool
	Dot      bool
	Anything bool
	Nothing  bool
	Literal  string
	Oneof    string
	Range    string
	Seq      []patternSpec
	Alt      []patternSpec
	Star     *patternSpec
	Maybe    *patternSpec
}

func (s *patternSpec) build(t *testing.T) *Pattern {
	t.Helper()
	set := 0
	for _, present := range []bool{
		s.Empty, s.Dot, s.Anything, s.Nothing,
		s.Literal != "", s.Oneof != "", s.Range != "",
		s.Seq != nil, s.Alt != nil, s.Star != nil, s.Maybe != nil,
	} {
		if present {
			set++
		}
	}
	assert.Equal(t, set, 1, "a corpus pattern node needs exactly one combinator")

	switch {
	case s.Empty:
		return Empty()
	case s.Dot:
		return Dot()
	case s.Anything:
		return Anything()
	case s.Nothing:
		return Nothing()
	case s.Literal != "":
		assert.Equal(t, len(s.Literal), 1, "literal %q is not a single byte", s.Literal)
		return Literal(s.Literal[0])
	case s.Oneof != "":
		return OneOf(s.Oneof)
	case s.Range != "":
		assert.Equal(t, len(s.Range), 2, "range %q needs exactly two bytes", s.Range)
		return Range(s.Range[0], s.Range[1])
	case s.Seq != nil:
		assert.Assert(t, len(s.Seq) >= 2, "seq needs at least two elements")
		p := s.Seq[0].build(t)
		for i := 1; i < len(s.Seq); i++ {
			p = Sequence(p, s.Seq[i].build(t))
		}
		return p
	case s.Alt != nil:
		assert.Assert(t, len(s.Alt) >= 2, "alt needs at least two elements")
		p := s.Alt[0].build(t)
		for i := 1; i < len(s.Alt); i++ {
			p = Alternation(p, s.Alt[i].build(t))
		}
		return p
	case s.Star != nil:
		return ZeroOrMore(s.Star.build(t))
	default:
		return Optional(s.Maybe.build(t))
	}
}

// probeAlphabet collects the distinct ASCII bytes named by a case's
// accept and reject lists.
func probeAlphabet(c corpusCase) []byte {
	var seen [128]bool
	for _, list := range [][]string{c.Accept, c.Reject} {
		for _, s := range list {
			for i := 0; i < len(s); i++ {
				if s[i] < 0x80 {
					seen[s[i]] = true
				}
			}
		}
	}
	var alphabet []byte
	for b := 0; b < len(seen); b++ {
		if seen[b] {
			alphabet = append(alphabet, byte(b))
		}
	}
	return alphabet
}

func probeSeed(name string) int64 {
	seed := int64(0x9e3779b9)
	for i := 0; i < len(name); i++ {
		seed = seed*131 + int64(name[i])
	}
	return seed
}

type corpusCase struct {
	Name    string
	Pattern patternSpec
	// Equiv is an optional equivalent expression for package regexp,
	// cross-checked against both lists.
	Equiv  string
	Accept []string
	Reject []string
}

func TestCorpus(t *testing.T) {
	corpusDir := filepath.Join(getCurrentDir(), "testdata")
	entries, err := os.ReadDir(corpusDir)
	assert.NilError(t, err)

	for _, file := range entries {
		if !file.Type().IsRegular() || !strings.HasSuffix(file.Name(), ".yaml") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(corpusDir, file.Name()))
		assert.NilError(t, err)
		var cases []corpusCase
		assert.NilError(t, yaml.Unmarshal(content, &cases), "decoding %s", file.Name())
		assert.Assert(t, len(cases) > 0, "%s holds no cases", file.Name())

		for _, c := range cases {
			c := c
			t.Run(strings.TrimSuffix(file.Name(), ".yaml")+"/"+c.Name, func(t *testing.T) {
				t.Parallel()
				p := c.Pattern.build(t)
				t.Logf("pattern %s\n", p)

				var re *regexp.Regexp
				if c.Equiv != "" {
					re = regexp.MustCompile(`\A(?s:` + c.Equiv + `)\z`)
				}

				for _, input := range c.Accept {
					assert.Assert(t, p.IsMatch(input), "expected %s to match %q", p, input)
					assert.Assert(t, matchFullScan(p, input), "full scan rejects %q", input)
					if re != nil {
						assert.Assert(t, re.MatchString(input), "equiv %q rejects %q", c.Equiv, input)
					}
				}
				for _, input := range c.Reject {
					assert.Assert(t, !p.IsMatch(input), "expected %s not to match %q", p, input)
					assert.Assert(t, !matchFullScan(p, input), "full scan matches %q", input)
					if re != nil {
						assert.Assert(t, !re.MatchString(input), "equiv %q matches %q", c.Equiv, input)
					}
				}

				// Random probes over the bytes the case itself
				// mentions, so the equiv expression is checked
				// beyond the hand-picked lists.
				if re == nil {
					return
				}
				alphabet := probeAlphabet(c)
				if len(alphabet) == 0 {
					return
				}
				rng := rand.New(rand.NewSource(probeSeed(c.Name)))
				for i := 0; i < 64; i++ {
					buf := make([]byte, rng.Intn(9))
					for j := range buf {
						buf[j] = alphabet[rng.Intn(len(alphabet))]
					}
					input := string(buf)
					assert.Equal(t, p.IsMatch(input), re.MatchString(input),
						"pattern %s and equiv %q disagree on probe %q", p, c.Equiv, input)
				}
			})
		}
	}
}

func TestCorpusPatternDecoding(t *testing.T) {
	src := `
seq:
  - alt:
      - literal: "a"
      - literal: "b"
  - star:
      dot: true
`
	var spec patternSpec
	assert.NilError(t, yaml.Unmarshal([]byte(src), &spec))
	assert.DeepEqual(t, spec.build(t),
		Sequence(Alternation(Literal('a'), Literal('b')), ZeroOrMore(Dot())),
		cmp.AllowUnexported(Pattern{}))
}
