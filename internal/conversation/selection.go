package conversation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var digitPattern = regexp.MustCompile(`\d+`)

// kanjiNumerals maps kanji numerals to values, replaced longest-first so 十二
// reads as 12 before 十 and 二 match on their own. Each spelling is replaced
// once, mirroring how users pick distinct menu positions.
var kanjiNumerals = []struct {
	word  string
	value int
}{
	{"二十", 20}, {"十九", 19}, {"十八", 18}, {"十七", 17}, {"十六", 16},
	{"十五", 15}, {"十四", 14}, {"十三", 13}, {"十二", 12}, {"十一", 11},
	{"十", 10}, {"九", 9}, {"八", 8}, {"七", 7}, {"六", 6},
	{"五", 5}, {"四", 4}, {"三", 3}, {"二", 2}, {"一", 1},
}

var englishWordPattern = regexp.MustCompile(`(?i)\b(one|two|three|four|five|six|seven|eight|nine|ten)\b`)

var englishValues = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// ParseSelection extracts menu positions from free text: ASCII digits (after
// NFKC folds full-width forms), kanji numerals, and English number words.
// ok is false when nothing parses or any parsed value falls outside 1..max;
// a partially-invalid selection is rejected whole rather than silently
// trimmed.
func ParseSelection(text string, max int) ([]int, bool) {
	t := norm.NFKC.String(text)

	var values []int
	for _, m := range digitPattern.FindAllString(t, -1) {
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, false
		}
		values = append(values, n)
	}
	// Strip matched digits so kanji scanning never re-reads them.
	t = digitPattern.ReplaceAllString(t, " ")

	for _, k := range kanjiNumerals {
		if strings.Contains(t, k.word) {
			values = append(values, k.value)
			t = strings.Replace(t, k.word, " ", 1)
		}
	}

	for _, m := range englishWordPattern.FindAllString(t, -1) {
		values = append(values, englishValues[strings.ToLower(m)])
	}

	if len(values) == 0 {
		return nil, false
	}

	seen := make(map[int]bool, len(values))
	var out []int
	for _, v := range values {
		if v < 1 || v > max {
			return nil, false
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out, true
}
