// Package retrack matches entire inputs against patterns built from
// composable combinators, tracking live partial matches instead of
// compiling an automaton.
package retrack

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Accepts is the four-valued acceptance result reported by a tracking state.
// It extends the boolean match/no-match answer with two stable variants that
// allow a match attempt to stop scanning before the input is exhausted.
type Accepts uint8

const (
	// Never reports that the tracking set holds no complete match and cannot
	// come to hold one under any future input, unless Start is called again.
	Never Accepts = iota

	// No reports that the tracking set holds no complete match right now.
	No

	// Yes reports that the tracking set holds a complete match right now.
	Yes

	// Always reports that the tracking set holds a complete match now and
	// will keep holding one under every possible future input.
	Always
)

// Combine merges the acceptance of two branches tracked side by side.
// Always absorbs everything, Never is the identity, and Yes dominates No;
// the constants are ordered so that Combine is exactly max.
func (a Accepts) Combine(b Accepts) Accepts {
	if b > a {
		return b
	}
	return a
}

// Matched reports whether a counts as a successful full match.
func (a Accepts) Matched() bool {
	return a >= Yes
}

func (a Accepts) String() string {
	switch a {
	case Never:
		return "never"
	case No:
		return "no"
	case Yes:
		return "yes"
	case Always:
		return "always"
	}
	return "accepts(" + strconv.Itoa(int(a)) + ")"
}

// State is the mutable tracking state of one match attempt. A State
// conceptually maintains the set of suffixes of the input consumed so far
// that are still live partial matches of its pattern: Start unions the empty
// string into that set, Advance extends every tracked string by one byte and
// drops the ones that can no longer continue, and Accepts reports whether
// the set currently holds a complete match.
//
// States are not safe for concurrent use; every match attempt owns its own.
//
// Implementations added outside this package must honor the Accepts
// contract: report Always only when acceptance can never be invalidated by
// any future Advance, and Never only when no future Advance can produce a
// match before the next Reset or Start.
type State interface {
	// Reset returns the state to its initial configuration, tracking nothing.
	Reset()
	// Start unions the empty string into the tracking set. Idempotent.
	Start()
	// Advance extends every tracked string by c.
	Advance(c byte)
	// Accepts reports whether the tracking set holds a complete match.
	Accepts() Accepts
}

// simpleState is the shared automaton behind every single-byte leaf. It
// packs two independent facts into two bits: bit 0 records "the empty string
// is in the tracking set", bit 1 records "the previous byte completed the
// match".
type simpleState uint8

const (
	simpleNeither simpleState = 0
	simpleStart   simpleState = 1
	simpleEnd     simpleState = 2
	simpleBoth    simpleState = 3
)

func (s simpleState) start() simpleState {
	return s | simpleStart
}

// advance moves one input position: a tracked empty string becomes a
// completed match when the predicate holds, a completed match becomes a
// dead string, and a failed predicate kills everything.
func (s simpleState) advance(ok bool) simpleState {
	if !ok {
		return simpleNeither
	}
	return (s & simpleStart) << 1
}

func (s simpleState) accepts() Accepts {
	switch s {
	case simpleNeither:
		return Never
	case simpleStart:
		return No
	}
	return Yes
}

// byteSet is a bitmask over the ASCII alphabet; OneOf rejects anything wider.
type byteSet [2]uint64

func (s *byteSet) add(c byte) {
	s[c>>6] |= 1 << (c & 63)
}

func (s *byteSet) contains(c byte) bool {
	return c < 128 && s[c>>6]&(1<<(c&63)) != 0
}

func (s *byteSet) empty() bool {
	return s[0]|s[1] == 0
}

type op uint8

const (
	opNothing op = iota
	opEmpty
	opLiteral
	opRange
	opOneOf
	opDot
	opAnything
	opSequence
	opAlternation
	opStar
	opMaybe
	opCustom
)

// Pattern is an immutable description of a match rule, built by the
// constructor functions in this package. It is safe for concurrent use by
// multiple goroutines: every match attempt builds its own tracking state and
// no method mutates the pattern.
//
// A nil *Pattern and the zero Pattern both match no input at all, and the
// composite constructors accept nil children.
type Pattern struct {
	op     op
	c      byte
	lo, hi byte
	set    byteSet
	mk     func() State
	left   *Pattern
	right  *Pattern
	// nodes is the number of tracking-state nodes this subtree needs,
	// counting nil and zero-value children as one dead node each.
	nodes int
}

// Nothing returns a pattern matching no input at all. It is the identity of
// Alternation and annihilates Sequence.
func Nothing() *Pattern {
	return &Pattern{op: opNothing, nodes: 1}
}

// Empty returns a pattern matching only the empty input.
func Empty() *Pattern {
	return &Pattern{op: opEmpty, nodes: 1}
}

// Dot returns a pattern matching any single byte. The engine works on bytes,
// not runes, so Dot consumes one byte of a multi-byte UTF-8 sequence.
func Dot() *Pattern {
	return &Pattern{op: opDot, nodes: 1}
}

// Anything returns a pattern matching every input, including the empty one.
// Its tracking state reports Always once started, so a match attempt against
// e.g. Sequence(p, Anything()) stops scanning as soon as p has matched a
// prefix of the input.
func Anything() *Pattern {
	return &Pattern{op: opAnything, nodes: 1}
}

// Literal returns a pattern matching exactly the single byte c.
func Literal(c byte) *Pattern {
	return &Pattern{op: opLiteral, c: c, nodes: 1}
}

// Range returns a pattern matching any single byte between lo and hi
// inclusive. It panics if lo > hi.
func Range(lo, hi byte) *Pattern {
	if lo > hi {
		panic("retrack: Range: lo " + strconv.Itoa(int(lo)) + " > hi " + strconv.Itoa(int(hi)))
	}
	return &Pattern{op: opRange, lo: lo, hi: hi, nodes: 1}
}

// OneOf returns a pattern matching any single byte contained in chars.
// The engine works on bytes, so OneOf panics if chars contains a character
// that does not fit in a byte. OneOf("") matches no input, like Nothing.
func OneOf(chars string) *Pattern {
	p := &Pattern{op: opOneOf, nodes: 1}
	for _, r := range chars {
		if r >= utf8.RuneSelf {
			panic("retrack: OneOf: character " + strconv.QuoteRune(r) + " does not fit in a byte")
		}
		p.set.add(byte(r))
	}
	return p
}

// Sequence returns a pattern matching any input that splits into a prefix
// matched by a and a suffix matched by b. Every split position is
// considered.
func Sequence(a, b *Pattern) *Pattern {
	return &Pattern{op: opSequence, left: a, right: b, nodes: 1 + a.stateNodes() + b.stateNodes()}
}

// Alternation returns a pattern matching any input matched by a or by b.
func Alternation(a, b *Pattern) *Pattern {
	return &Pattern{op: opAlternation, left: a, right: b, nodes: 1 + a.stateNodes() + b.stateNodes()}
}

// ZeroOrMore returns a pattern matching any input that splits into zero or
// more consecutive pieces, each matched by p. It matches the empty input.
func ZeroOrMore(p *Pattern) *Pattern {
	return &Pattern{op: opStar, left: p, nodes: 1 + p.stateNodes()}
}

// Optional returns a pattern matching the empty input or any input matched
// by p.
func Optional(p *Pattern) *Pattern {
	return &Pattern{op: opMaybe, left: p, nodes: 1 + p.stateNodes()}
}

// Custom returns a pattern whose tracking states are produced by newState,
// letting combinators implemented outside this package participate in
// pattern trees. The produced states must honor the State contract.
// Custom panics if newState is nil.
func Custom(newState func() State) *Pattern {
	if newState == nil {
		panic("retrack: Custom: nil state constructor")
	}
	return &Pattern{op: opCustom, mk: newState, nodes: 1}
}

func (p *Pattern) stateNodes() int {
	// The zero Pattern never went through a constructor; like nil it takes
	// a single dead node.
	if p == nil || p.nodes == 0 {
		return 1
	}
	return p.nodes
}

// state is the uniform tracking-state node, one per pattern node. A whole
// tree is laid out in a single slice per attempt and interpreted by
// switching on the pattern's op.
type state struct {
	p      *Pattern
	left   *state
	right  *state
	ext    State
	acc    Accepts
	simple simpleState
	// init is the one extra bit of op-specific tracking. ZeroOrMore,
	// Optional and Empty keep their live empty-string branch here,
	// Anything its started flag.
	init bool
}

var _ State = (*state)(nil)

// NewState builds a fresh tracking state for a single match attempt. The
// state starts out tracking nothing; Match (or Start) brings it to life.
func (p *Pattern) NewState() State {
	arena := make([]state, p.stateNodes())
	s, _ := newStateIn(p, arena)
	return s
}

func newStateIn(p *Pattern, arena []state) (*state, []state) {
	s := &arena[0]
	arena = arena[1:]
	s.p = p
	if p == nil {
		return s, arena
	}
	switch p.op {
	case opSequence, opAlternation:
		s.left, arena = newStateIn(p.left, arena)
		s.right, arena = newStateIn(p.right, arena)
	case opStar, opMaybe:
		s.left, arena = newStateIn(p.left, arena)
	case opCustom:
		s.ext = p.mk()
	}
	return s, arena
}

func (s *state) Reset() {
	if s.p == nil {
		return
	}
	s.simple = simpleNeither
	s.init = false
	s.acc = Never
	switch s.p.op {
	case opSequence, opAlternation:
		s.left.Reset()
		s.right.Reset()
	case opStar, opMaybe:
		s.left.Reset()
	case opCustom:
		s.ext.Reset()
		s.acc = s.ext.Accepts()
	}
}

func (s *state) Start() {
	p := s.p
	if p == nil {
		return
	}
	switch p.op {
	case opNothing:
		// Tracks nothing, forever.
	case opEmpty:
		s.init = true
		s.acc = Yes
	case opAnything:
		s.init = true
		s.acc = Always
	case opLiteral, opRange, opOneOf, opDot:
		s.simple = s.simple.start()
		s.acc = s.simple.accepts()
	case opSequence:
		s.left.Start()
		if s.left.acc.Matched() {
			s.right.Start()
		}
		s.acc = seqAccepts(s.left.acc, s.right.acc)
	case opAlternation:
		s.left.Start()
		s.right.Start()
		s.acc = s.left.acc.Combine(s.right.acc)
	case opStar, opMaybe:
		s.init = true
		s.left.Start()
		s.acc = Yes.Combine(s.left.acc)
	case opCustom:
		s.ext.Start()
		s.acc = s.ext.Accepts()
	}
}

func (s *state) Advance(c byte) {
	p := s.p
	if p == nil {
		return
	}
	switch p.op {
	case opNothing:
	case opEmpty:
		s.init = false
		s.acc = Never
	case opAnything:
		// Every extension of every tracked string stays tracked.
	case opLiteral:
		s.simple = s.simple.advance(c == p.c)
		s.acc = s.simple.accepts()
	case opRange:
		s.simple = s.simple.advance(p.lo <= c && c <= p.hi)
		s.acc = s.simple.accepts()
	case opOneOf:
		s.simple = s.simple.advance(p.set.contains(c))
		s.acc = s.simple.accepts()
	case opDot:
		s.simple = s.simple.advance(true)
		s.acc = s.simple.accepts()
	case opSequence:
		// The right operand sees this byte with its pre-step state: a byte
		// that completes the left operand must not also feed a right operand
		// started on this same step.
		s.right.Advance(c)
		s.left.Advance(c)
		if s.left.acc.Matched() {
			s.right.Start()
		}
		s.acc = seqAccepts(s.left.acc, s.right.acc)
	case opAlternation:
		s.left.Advance(c)
		s.right.Advance(c)
		s.acc = s.left.acc.Combine(s.right.acc)
	case opStar:
		s.init = false
		s.left.Advance(c)
		if s.left.acc.Matched() {
			// One repetition ends at this byte; the next may begin at the
			// very next one, and stopping here becomes an option again.
			s.init = true
			s.left.Start()
		}
		if s.init {
			s.acc = Yes.Combine(s.left.acc)
		} else {
			s.acc = s.left.acc
		}
	case opMaybe:
		s.init = false
		s.left.Advance(c)
		s.acc = s.left.acc
	case opCustom:
		s.ext.Advance(c)
		s.acc = s.ext.Accepts()
	}
}

func (s *state) Accepts() Accepts {
	return s.acc
}

// seqAccepts gates the right operand's acceptance: a dead right operand can
// be revived by a restart as long as the left operand is alive, so Never
// propagates only when both sides are dead.
func seqAccepts(left, right Accepts) Accepts {
	if right == Never && left != Never {
		return No
	}
	return right
}

// Match drives one full-match attempt of s over input. It resets and starts
// s, advances it byte by byte, and stops early once the outcome can no
// longer change: Always means every continuation matches, Never means none
// can. Scanning the whole input instead yields the same answer.
func Match(s State, input string) bool {
	s.Reset()
	s.Start()
	for i := 0; i < len(input); i++ {
		s.Advance(input[i])
		switch s.Accepts() {
		case Always:
			return true
		case Never:
			return false
		}
	}
	return s.Accepts().Matched()
}

// IsMatch reports whether the entire input matches p. Note that this is not
// looking for an occurrence of p somewhere in the input. Each call builds a
// fresh tracking state, so concurrent calls on one Pattern are safe.
func (p *Pattern) IsMatch(input string) bool {
	return Match(p.NewState(), input)
}

// Matcher owns one reusable tracking state for repeated attempts against a
// single pattern. It avoids the per-attempt allocation of Pattern.IsMatch
// but may be used by only one goroutine at a time.
type Matcher struct {
	s State
}

// NewMatcher returns a Matcher for repeated matching against p.
func (p *Pattern) NewMatcher() *Matcher {
	return &Matcher{s: p.NewState()}
}

// IsMatch reports whether the entire input matches the Matcher's pattern.
func (m *Matcher) IsMatch(input string) bool {
	return Match(m.s, input)
}

// Rendering precedence: what the surrounding context can hold without
// grouping.
const (
	precAlt = iota
	precSeq
	precAtom
)

// String renders p in a regexp-flavored syntax, for diagnostics and test
// labels. Nothing renders as "(?!)" and Custom patterns as "<custom>";
// everything else stays within the syntax of package regexp.
func (p *Pattern) String() string {
	var b strings.Builder
	p.render(&b, precAlt)
	return b.String()
}

func (p *Pattern) render(b *strings.Builder, prec int) {
	if p == nil || p.op == opNothing {
		b.WriteString("(?!)")
		return
	}
	switch p.op {
	case opEmpty:
		b.WriteString("(?:)")
	case opDot:
		b.WriteByte('.')
	case opAnything:
		if prec >= precAtom {
			b.WriteString("(?:.*)")
		} else {
			b.WriteString(".*")
		}
	case opLiteral:
		writeLiteralByte(b, p.c)
	case opRange:
		b.WriteByte('[')
		writeClassByte(b, p.lo)
		b.WriteByte('-')
		writeClassByte(b, p.hi)
		b.WriteByte(']')
	case opOneOf:
		if p.set.empty() {
			b.WriteString("(?!)")
			return
		}
		b.WriteByte('[')
		for c := 0; c < 128; c++ {
			if p.set.contains(byte(c)) {
				writeClassByte(b, byte(c))
			}
		}
		b.WriteByte(']')
	case opSequence:
		if prec >= precAtom {
			b.WriteString("(?:")
		}
		p.left.render(b, precSeq)
		p.right.render(b, precSeq)
		if prec >= precAtom {
			b.WriteByte(')')
		}
	case opAlternation:
		if prec >= precSeq {
			b.WriteString("(?:")
		}
		p.left.render(b, precAlt)
		b.WriteByte('|')
		p.right.render(b, precAlt)
		if prec >= precSeq {
			b.WriteByte(')')
		}
	case opStar:
		if prec >= precAtom {
			b.WriteString("(?:")
		}
		p.left.render(b, precAtom)
		b.WriteByte('*')
		if prec >= precAtom {
			b.WriteByte(')')
		}
	case opMaybe:
		if prec >= precAtom {
			b.WriteString("(?:")
		}
		p.left.render(b, precAtom)
		b.WriteByte('?')
		if prec >= precAtom {
			b.WriteByte(')')
		}
	case opCustom:
		b.WriteString("<custom>")
	}
}

const hexDigits = "0123456789abcdef"

func writeLiteralByte(b *strings.Builder, c byte) {
	switch {
	case strings.IndexByte(`\.+*?()|[]{}^$`, c) >= 0:
		b.WriteByte('\\')
		b.WriteByte(c)
	case c >= 0x20 && c < 0x7f:
		b.WriteByte(c)
	default:
		writeHexByte(b, c)
	}
}

func writeClassByte(b *strings.Builder, c byte) {
	switch {
	case strings.IndexByte(`\]^-`, c) >= 0:
		b.WriteByte('\\')
		b.WriteByte(c)
	case c >= 0x20 && c < 0x7f:
		b.WriteByte(c)
	default:
		writeHexByte(b, c)
	}
}

func writeHexByte(b *strings.Builder, c byte) {
	b.WriteString(`\x`)
	b.WriteByte(hexDigits[c>>4])
	b.WriteByte(hexDigits[c&0xf])
}
