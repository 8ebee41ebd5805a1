// Package segment splits generated text into sentence-level units for
// incremental synthesis.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Unit is one sentence or clause slice of the input text.
type Unit struct {
	Content  string // exact slice of the input, including trailing whitespace
	Order    int    // 0-based position in the input
	Complete bool   // ends with a terminal punctuation mark
}

// SynthesisText returns the content with surrounding whitespace removed.
func (u Unit) SynthesisText() string {
	return strings.TrimSpace(u.Content)
}

// Pair is an opening/closing delimiter pair. Terminal punctuation inside a
// matched pair does not end a sentence.
type Pair struct {
	Open  rune
	Close rune
}

// Config holds the punctuation sets used by the segmenter.
type Config struct {
	TerminalMarks  string
	PauseMarks     string
	MinPauseLength int // in code points
	Pairs          []Pair
}

// DefaultConfig covers CJK and Latin sentence punctuation.
func DefaultConfig() Config {
	return Config{
		TerminalMarks:  "。！？.!?",
		PauseMarks:     "，,；;",
		MinPauseLength: 10,
		Pairs: []Pair{
			{'(', ')'}, {'[', ']'}, {'{', '}'}, {'<', '>'},
			{'（', '）'}, {'【', '】'}, {'｛', '｝'}, {'＜', '＞'},
			{'《', '》'}, {'「', '」'}, {'『', '』'},
			{'“', '”'}, {'‘', '’'},
		},
	}
}

// Segmenter splits text into Units. It holds no mutable state and is safe
// for concurrent use.
type Segmenter struct {
	terminal map[rune]bool
	pause    map[rune]bool
	closers  map[rune]rune // open -> close
	isCloser map[rune]bool
	minPause int
}

// New creates a Segmenter from cfg.
func New(cfg Config) *Segmenter {
	s := &Segmenter{
		terminal: runeSet(cfg.TerminalMarks),
		pause:    runeSet(cfg.PauseMarks),
		closers:  make(map[rune]rune, len(cfg.Pairs)),
		isCloser: make(map[rune]bool, len(cfg.Pairs)),
		minPause: cfg.MinPauseLength,
	}
	for _, p := range cfg.Pairs {
		s.closers[p.Open] = p.Close
		s.isCloser[p.Close] = true
	}
	return s
}

// NewDefault creates a Segmenter with DefaultConfig.
func NewDefault() *Segmenter {
	return New(DefaultConfig())
}

func runeSet(s string) map[rune]bool {
	m := make(map[rune]bool, utf8.RuneCountInString(s))
	for _, r := range s {
		m[r] = true
	}
	return m
}

// Segment splits text at every terminal mark that is not enclosed in a
// matched delimiter pair. Concatenating the Content of the returned units
// reproduces text exactly.
func (s *Segmenter) Segment(text string) []Unit {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// offs[i] is the byte offset of runes[i]; offs[len(runes)] is len(text).
	// Slicing text by offset keeps invalid UTF-8 bytes intact.
	runes := make([]rune, 0, len(text))
	offs := make([]int, 0, len(text)+1)
	for off := 0; off < len(text); {
		r, size := utf8.DecodeRuneInString(text[off:])
		runes = append(runes, r)
		offs = append(offs, off)
		off += size
	}
	offs = append(offs, len(text))
	protected := s.enclosed(runes)

	var units []Unit
	start := 0
	for i := 0; i < len(runes); i++ {
		if !s.terminal[runes[i]] || protected[i] {
			continue
		}
		end := i + 1
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		units = append(units, Unit{
			Content:  text[offs[start]:offs[end]],
			Order:    len(units),
			Complete: true,
		})
		start = end
		i = end - 1
	}

	if start < len(runes) {
		units = append(units, Unit{
			Content:  text[offs[start]:],
			Order:    len(units),
			Complete: false,
		})
	}
	return units
}

// enclosed marks every rune strictly inside a matched delimiter pair.
// Unmatched openers protect nothing.
func (s *Segmenter) enclosed(runes []rune) []bool {
	type open struct {
		pos   int
		close rune
	}
	protected := make([]bool, len(runes))
	var stack []open
	for i, r := range runes {
		if len(stack) > 0 && r == stack[len(stack)-1].close {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for j := top.pos + 1; j < i; j++ {
				protected[j] = true
			}
			continue
		}
		if c, ok := s.closers[r]; ok {
			stack = append(stack, open{pos: i, close: c})
			continue
		}
		if s.isCloser[r] {
			// closes an opener below the top; the openers above it stay unmatched
			for k := len(stack) - 1; k >= 0; k-- {
				if stack[k].close == r {
					for j := stack[k].pos + 1; j < i; j++ {
						protected[j] = true
					}
					stack = stack[:k]
					break
				}
			}
		}
	}
	return protected
}

// IsNaturalPause reports whether text is long enough and contains a pause
// mark (comma or semicolon family). Callers use it to decide whether a
// fragment is worth synthesizing on its own.
func (s *Segmenter) IsNaturalPause(text string) bool {
	if utf8.RuneCountInString(text) < s.minPause {
		return false
	}
	for _, r := range text {
		if s.pause[r] {
			return true
		}
	}
	return false
}

// EndsSentence reports whether text, ignoring trailing whitespace, ends with
// a terminal mark.
func (s *Segmenter) EndsSentence(text string) bool {
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	if text == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text)
	return s.terminal[r]
}
