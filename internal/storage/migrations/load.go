package migrations

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// migration is one embedded SQL file split into executable statements.
type migration struct {
	name  string
	stmts []string
}

// load reads every .sql file under dir in lexical order.
// Files without statements are skipped.
func load(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		stmts, err := statements(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", name, err)
		}
		if len(stmts) == 0 {
			continue
		}
		out = append(out, migration{name: name, stmts: stmts})
	}
	return out, nil
}

// statements splits src on semicolons that sit outside single-quoted
// literals. Whole-line -- comments are dropped; block comments are not
// supported. An unterminated literal is an error.
func statements(src string) ([]string, error) {
	var body strings.Builder
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var (
		stmts  []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if stmt := strings.TrimSpace(cur.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}
		cur.Reset()
	}

	for _, r := range body.String() {
		if r == ';' && !quoted {
			flush()
			continue
		}
		if r == '\'' {
			// '' toggles twice and stays inside the literal.
			quoted = !quoted
		}
		cur.WriteRune(r)
	}
	if quoted {
		return nil, fmt.Errorf("unterminated string literal")
	}
	flush()
	return stmts, nil
}
