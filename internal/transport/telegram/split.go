package telegram

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// textLimit stays below Telegram's 4096 character cap.
const textLimit = 4000

// splitText cuts s into chunks of at most limit runes. A cut prefers the last
// newline, then the last space, in the second half of the window. In HTML
// mode a cut never lands inside a tag or an entity, and tags still open at a
// cut are closed at the end of the chunk and reopened at the start of the
// next one, so every chunk parses on its own.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	if !strings.EqualFold(parseMode, "HTML") {
		return splitPlain(rs, limit)
	}
	return splitHTML(rs, limit)
}

func splitPlain(rs []rune, limit int) []string {
	var out []string
	for len(rs) > 0 {
		end := len(rs)
		if end > limit {
			end = cutPoint(rs[:limit], false)
		}
		if chunk := strings.TrimRight(string(rs[:end]), "\n "); chunk != "" {
			out = append(out, chunk)
		}
		rs = skipBreaks(rs[end:])
	}
	return out
}

func splitHTML(rs []rune, limit int) []string {
	var (
		out  []string
		open []openTag
	)
	for len(rs) > 0 {
		prefix := reopenTags(open)
		window := limit - utf8.RuneCountInString(prefix) - closersLen(open)
		var (
			end  int
			next []openTag
		)
		for {
			window = max(window, 1)
			end = len(rs)
			if end > window {
				end = cutPoint(rs[:window], true)
			}
			next = scanTags(rs[:end], open)
			over := utf8.RuneCountInString(prefix) + end + closersLen(next) - limit
			if over <= 0 || window == 1 {
				break
			}
			window -= over
		}
		if body := strings.TrimRight(string(rs[:end]), "\n "); body != "" {
			out = append(out, prefix+body+closeTags(next))
		}
		open = next
		rs = skipBreaks(rs[end:])
	}
	return out
}

func skipBreaks(rs []rune) []rune {
	for len(rs) > 0 && (rs[0] == '\n' || rs[0] == ' ') {
		rs = rs[1:]
	}
	return rs
}

func cutPoint(win []rune, html bool) int {
	end := len(win)
	floor := len(win) / 2
	if i := lastIndex(win, '\n', floor); i >= 0 {
		end = i + 1
	} else if i := lastIndex(win, ' ', floor); i >= 0 {
		end = i + 1
	}
	if html {
		end = outsideMarkup(win[:end], end)
	}
	return end
}

func lastIndex(rs []rune, r rune, floor int) int {
	for i := len(rs) - 1; i >= floor; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

// outsideMarkup moves end back to the start of an unterminated tag or
// entity at the tail of win.
func outsideMarkup(win []rune, end int) int {
	for i := len(win) - 1; i > 0; i-- {
		switch win[i] {
		case '>', ';':
			return end
		case '<', '&':
			return i
		}
	}
	return end
}

type openTag struct {
	name string
	raw  string
}

// scanTags returns the tags left open after rs, starting from open.
func scanTags(rs []rune, open []openTag) []openTag {
	stack := slices.Clone(open)
	for i := 0; i < len(rs); i++ {
		if rs[i] != '<' {
			continue
		}
		j := i + 1
		for j < len(rs) && rs[j] != '>' {
			j++
		}
		if j >= len(rs) {
			break
		}
		body := strings.TrimSpace(string(rs[i+1 : j]))
		switch {
		case strings.HasPrefix(body, "/"):
			name := tagName(body[1:])
			for k := len(stack) - 1; k >= 0; k-- {
				if stack[k].name == name {
					stack = stack[:k]
					break
				}
			}
		case body != "" && !strings.HasSuffix(body, "/"):
			stack = append(stack, openTag{name: tagName(body), raw: string(rs[i : j+1])})
		}
		i = j
	}
	return stack
}

func tagName(body string) string {
	if i := strings.IndexAny(body, " \t\n"); i >= 0 {
		body = body[:i]
	}
	return strings.ToLower(body)
}

func reopenTags(open []openTag) string {
	var b strings.Builder
	for _, t := range open {
		b.WriteString(t.raw)
	}
	return b.String()
}

func closeTags(open []openTag) string {
	var b strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i].name + ">")
	}
	return b.String()
}

func closersLen(open []openTag) int {
	n := 0
	for _, t := range open {
		n += utf8.RuneCountInString(t.name) + 3
	}
	return n
}
