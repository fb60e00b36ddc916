package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// The gate and its collaborators are transport-agnostic. They must never
// reach up into the room or the websocket layer.
var forbidden = map[string][]string{
	"./internal/gate/...":      {"atrium/server/internal/net", "atrium/server/cmd"},
	"./internal/schema/...":    {"atrium/server/internal/net", "atrium/server/internal/gate"},
	"./internal/presence/...":  {"atrium/server/internal/net", "atrium/server/internal/gate"},
	"./internal/entities/...":  {"atrium/server/internal/net/ws", "atrium/server/internal/gate"},
	"./internal/net/proto/...": {"atrium/server/internal/gate", "atrium/server/internal/net/ws"},
}

type packageInfo struct {
	ImportPath string
	Imports    []string
}

func main() {
	var violations []string

	patterns := make([]string, 0, len(forbidden))
	for pattern := range forbidden {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)

	for _, pattern := range patterns {
		pkgs, err := listPackages(pattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "depscheck: failed to list %s: %v\n", pattern, err)
			os.Exit(1)
		}
		for _, pkg := range pkgs {
			for _, imp := range pkg.Imports {
				for _, banned := range forbidden[pattern] {
					if imp == banned || strings.HasPrefix(imp, banned+"/") {
						violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
					}
				}
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func listPackages(pattern string) ([]packageInfo, error) {
	cmd := exec.Command("go", "list", "-json", pattern)
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(output))
	var pkgs []packageInfo
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}
