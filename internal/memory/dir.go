package memory

import (
	"os"
	"strings"
)

// readDirJSONL returns the kind names (basenames without ".jsonl") of every
// journal file present in dir.
func readDirJSONL(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var kinds []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".jsonl") {
			kinds = append(kinds, strings.TrimSuffix(name, ".jsonl"))
		}
	}
	return kinds, nil
}
