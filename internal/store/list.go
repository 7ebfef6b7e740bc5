package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// listJSON reads every *.json file directly under dir and unmarshals each
// into a T, skipping files that fail to parse (a record mid-write via its
// .tmp sibling is invisible here, since that sibling doesn't match *.json).
func listJSON[T any](dir string) ([]T, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]T, 0, len(names))
	for _, name := range names {
		var v T
		ok, err := readJSON(filepath.Join(dir, name), &v)
		if err != nil || !ok {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
