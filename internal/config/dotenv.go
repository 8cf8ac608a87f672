package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadDotEnv copies KEY=VALUE lines from path into the process environment.
// Variables that are already set are left alone.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		// allow "export KEY=..."
		if strings.HasPrefix(k, "export ") {
			k = strings.TrimSpace(strings.TrimPrefix(k, "export "))
		}
		v = strings.Trim(strings.TrimSpace(v), "\"'")
		if k == "" || os.Getenv(k) != "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return scanner.Err()
}
