package moderation

import (
	"bufio"
	"io/fs"
	"path"
	"sort"
	"strings"

	"session-chat/errors"
)

// WordList is the merged content of every dictionary of a directory.
type WordList struct {
	Words     []string
	Languages []string
}

// WordLoader reads one word per line from the *.txt files of a directory,
// each file being a language ("fr.txt" -> "fr").
type WordLoader struct {
	fs fs.FS
}

func NewWordLoader(f fs.FS) *WordLoader {
	return &WordLoader{fs: f}
}

func (l *WordLoader) LoadAll(dir string) (*WordList, error) {
	entries, err := fs.ReadDir(l.fs, dir)
	if err != nil {
		return nil, err
	}

	var languages []string
	uniqueWords := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".txt" {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		file, err := l.fs.Open(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		// handles \r\n endings too
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				uniqueWords[strings.ToLower(line)] = struct{}{}
			}
		}
		err = scanner.Err()
		_ = file.Close()
		if err != nil {
			return nil, err
		}
	}
	if len(uniqueWords) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(uniqueWords))
	for w := range uniqueWords {
		words = append(words, w)
	}
	sort.Strings(words)
	return &WordList{Words: words, Languages: languages}, nil
}
