package delegation

// Match reports whether a normalized command matches a class pattern.
// Patterns are plain text with "*" wildcards, each matching any run of
// characters, e.g. "/notion set pg_* Status=*". Matching is the only
// place the core touches command text beyond fingerprinting, and it only
// ever sees the normalized form.
func Match(pattern, command string) bool {
	// Iterative wildcard match with single backtrack point. Linear in
	// len(command) for any pattern.
	p, c := 0, 0
	star, mark := -1, 0

	for c < len(command) {
		switch {
		case p < len(pattern) && pattern[p] == command[c]:
			p++
			c++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = c
			p++
		case star >= 0:
			p = star + 1
			mark++
			c = mark
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
