package ioc

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// LoadFiles reads known-bad hashes from newline-delimited files. Blank lines
// and lines starting with '#' are skipped; only the first field of a line
// (split on whitespace or ',') is used. Every file is read even when an
// earlier one fails, and all failures are returned together.
func LoadFiles(paths ...string) ([]string, error) {
	var hashes []string
	var result *multierror.Error

	for _, path := range paths {
		found, err := loadFile(path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		hashes = append(hashes, found...)
	}

	return hashes, result.ErrorOrNil()
}

func loadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ioc file %s: %w", path, err)
	}
	defer f.Close()

	var hashes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == ';'
		})
		if len(field) == 0 {
			continue
		}
		if h, ok := Normalize(field[0]); ok {
			hashes = append(hashes, h)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ioc file %s: %w", path, err)
	}

	return hashes, nil
}
