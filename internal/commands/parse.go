package commands

import (
	"strings"
)

// tokenize splits a command line on spaces, honoring single and double
// quotes and backslash escapes.
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		quote byte
		esc   bool
		had   bool
	)
	flush := func() {
		if had {
			out = append(out, buf.String())
			buf.Reset()
			had = false
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
			had = true
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				buf.WriteByte(ch)
			}
		case ch == '"' || ch == '\'':
			quote = ch
			had = true
		case ch == ' ' || ch == '\t' || ch == '\n':
			flush()
		default:
			buf.WriteByte(ch)
			had = true
		}
	}
	flush()
	return out
}

// parseCommand splits "/name@bot args" into the lowercased name, the bot
// mention (may be empty) and the argument tokens. ok is false for text that
// is not a command.
func parseCommand(text string) (name, mention string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", nil, false
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return "", "", nil, false
	}
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name, mention = name[:i], name[i+1:]
	}
	if name == "" {
		return "", "", nil, false
	}
	return strings.ToLower(name), mention, parts[1:], true
}

// parseFlags separates positional args from key=value, --key=value and
// --key value flags. Keys are lowercased.
func parseFlags(args []string) (pos []string, flags map[string]string) {
	flags = map[string]string{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			key := a[2:]
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[strings.ToLower(key[:eq])] = key[eq+1:]
				continue
			}
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags[strings.ToLower(key)] = args[i+1]
				i++
				continue
			}
			flags[strings.ToLower(key)] = "true"
			continue
		}
		if eq := strings.IndexByte(a, '='); eq > 0 {
			flags[strings.ToLower(a[:eq])] = a[eq+1:]
			continue
		}
		pos = append(pos, a)
	}
	return pos, flags
}
