package compare

import "unicode"

// opKind is one step of an edit script.
type opKind int

const (
	opKeep opKind = iota
	opDelete
	opInsert
)

// op refers to a[A] for keep and delete, b[B] for keep and insert.
type op struct {
	kind opKind
	a, b int
}

// diff returns an edit script turning a into b, built from the longest
// common subsequence of equal keys. Deletions come before insertions
// inside each changed stretch.
func diff(a, b []string) []op {
	pre := 0
	for pre < len(a) && pre < len(b) && a[pre] == b[pre] {
		pre++
	}
	suf := 0
	for suf < len(a)-pre && suf < len(b)-pre && a[len(a)-1-suf] == b[len(b)-1-suf] {
		suf++
	}
	ops := make([]op, 0, max(len(a), len(b)))
	for i := 0; i < pre; i++ {
		ops = append(ops, op{opKeep, i, i})
	}
	ma, mb := a[pre:len(a)-suf], b[pre:len(b)-suf]
	n, m := len(ma), len(mb)
	// table[i][j] is the LCS length of ma[i:] and mb[j:].
	table := make([][]int32, n+1)
	for i := range table {
		table[i] = make([]int32, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if ma[i] == mb[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else {
				table[i][j] = max(table[i+1][j], table[i][j+1])
			}
		}
	}
	i, j := 0, 0
	var dels, ins []op
	flush := func() {
		ops = append(ops, dels...)
		ops = append(ops, ins...)
		dels, ins = dels[:0], ins[:0]
	}
	for i < n || j < m {
		switch {
		case i < n && j < m && ma[i] == mb[j]:
			flush()
			ops = append(ops, op{opKeep, pre + i, pre + j})
			i++
			j++
		case j >= m || (i < n && table[i+1][j] >= table[i][j+1]):
			dels = append(dels, op{kind: opDelete, a: pre + i, b: -1})
			i++
		default:
			ins = append(ins, op{kind: opInsert, a: -1, b: pre + j})
			j++
		}
	}
	flush()
	for k := 0; k < suf; k++ {
		ops = append(ops, op{opKeep, len(a) - suf + k, len(b) - suf + k})
	}
	return ops
}

// similarity is 2*LCS/(len(a)+len(b)), 1 for two empty sequences.
func similarity(a, b []string) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	common := 0
	for _, o := range diff(a, b) {
		if o.kind == opKeep {
			common++
		}
	}
	return 2 * float64(common) / float64(len(a)+len(b))
}

// tokenize splits text into comparison units. Word level yields runs of
// letters and digits, runs of spaces, and single other characters.
func tokenize(s string, g Granularity) []string {
	var out []string
	if g == CharLevel {
		for _, r := range s {
			out = append(out, string(r))
		}
		return out
	}
	class := func(r rune) int {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '_':
			return 1
		case r == ' ' || r == '\t':
			return 2
		}
		return 0
	}
	start := 0
	prev := -1
	for i, r := range s {
		c := class(r)
		if i > start && (c != prev || c == 0) {
			out = append(out, s[start:i])
			start = i
		}
		prev = c
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
