package merge

import (
	"bytes"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Labels name the two sides in conflict markers.
type Labels struct {
	Ours   string
	Theirs string
}

const (
	markerOurs   = "<<<<<<<"
	markerSep    = "======="
	markerTheirs = ">>>>>>>"
)

// hunk replaces base lines [start, end) with lines.
type hunk struct {
	start, end int
	lines      []string
}

// Text merges line-based text three ways. Changes that overlap or touch in
// the base are conflicts and are rendered with conflict markers. It reports
// whether the merge was clean.
func Text(base, ours, theirs []byte, labels Labels) ([]byte, bool) {
	baseLines := splitLines(string(base))
	a := diffHunks(string(base), string(ours))
	b := diffHunks(string(base), string(theirs))

	var out bytes.Buffer
	clean := true
	pos := 0
	i, j := 0, 0

	for i < len(a) || j < len(b) {
		start := len(baseLines)
		if i < len(a) {
			start = a[i].start
		}
		if j < len(b) && b[j].start < start {
			start = b[j].start
		}

		// Grow the region while hunks from either side reach into it.
		ai, bj, end := i, j, start
		for {
			grown := false
			if ai < len(a) && a[ai].start <= end {
				end = max(end, a[ai].end)
				ai++
				grown = true
			}
			if bj < len(b) && b[bj].start <= end {
				end = max(end, b[bj].end)
				bj++
				grown = true
			}
			if !grown {
				break
			}
		}

		writeLines(&out, baseLines[pos:start])

		region := baseLines[start:end]
		switch {
		case ai == i:
			writeLines(&out, apply(region, start, b[j:bj]))
		case bj == j:
			writeLines(&out, apply(region, start, a[i:ai]))
		default:
			oursRegion := apply(region, start, a[i:ai])
			theirsRegion := apply(region, start, b[j:bj])
			if slices.Equal(oursRegion, theirsRegion) {
				writeLines(&out, oursRegion)
			} else {
				clean = false
				writeConflict(&out, oursRegion, theirsRegion, labels)
			}
		}

		pos = end
		i, j = ai, bj
	}

	writeLines(&out, baseLines[pos:])
	return out.Bytes(), clean
}

// apply replays hunks onto the base region that begins at offset.
func apply(region []string, offset int, hunks []hunk) []string {
	var out []string
	cur := 0
	for _, h := range hunks {
		out = append(out, region[cur:h.start-offset]...)
		out = append(out, h.lines...)
		cur = h.end - offset
	}
	return append(out, region[cur:]...)
}

func writeLines(out *bytes.Buffer, lines []string) {
	for _, l := range lines {
		out.WriteString(l)
	}
}

func writeConflict(out *bytes.Buffer, ours, theirs []string, labels Labels) {
	out.WriteString(markerOurs + " " + labels.Ours + "\n")
	writeTerminated(out, ours)
	out.WriteString(markerSep + "\n")
	writeTerminated(out, theirs)
	out.WriteString(markerTheirs + " " + labels.Theirs + "\n")
}

func writeTerminated(out *bytes.Buffer, lines []string) {
	writeLines(out, lines)
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		out.WriteByte('\n')
	}
}

// diffHunks returns the changes turning base into other, in base line
// coordinates.
func diffHunks(base, other string) []hunk {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	baseLines, otherLines := splitLines(base), splitLines(other)
	r1, r2 := linesToRunes(baseLines, otherLines)
	diffs := dmp.DiffMainRunes(r1, r2, false)

	var hunks []hunk
	var open *hunk
	bi, oi, ostart := 0, 0, 0

	closeHunk := func() {
		if open != nil {
			open.end = bi
			open.lines = otherLines[ostart:oi]
			hunks = append(hunks, *open)
			open = nil
		}
	}

	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			closeHunk()
			bi += n
			oi += n
		case diffmatchpatch.DiffDelete:
			if open == nil {
				open = &hunk{start: bi}
				ostart = oi
			}
			bi += n
		case diffmatchpatch.DiffInsert:
			if open == nil {
				open = &hunk{start: bi}
				ostart = oi
			}
			oi += n
		}
	}
	closeHunk()

	return hunks
}

// linesToRunes encodes every distinct line as one rune so the character
// diff becomes a line diff. Surrogate code points are skipped.
func linesToRunes(a, b []string) ([]rune, []rune) {
	ids := make(map[string]rune)
	encode := func(lines []string) []rune {
		out := make([]rune, len(lines))
		for i, l := range lines {
			r, ok := ids[l]
			if !ok {
				r = rune(len(ids) + 1)
				if r >= 0xD800 {
					r += 0x800
				}
				ids[l] = r
			}
			out[i] = r
		}
		return out
	}
	return encode(a), encode(b)
}

// splitLines splits after every newline. A trailing fragment without newline
// is the last line.
func splitLines(s string) []string {
	var lines []string
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}
