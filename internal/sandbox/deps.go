package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

/*
Script dependency handling. A script may declare the third-party packages
it needs in a comment header:

    # requirements: requests, beautifulsoup4

When no header is present we fall back to scanning import statements and
filtering out standard-library modules. Packages are installed into a
.deps directory next to the script, which is placed on PYTHONPATH for the
run. Installation failures are logged and never block execution; the
script fails on its own if a module is truly missing.
*/

const depsInstallTimeout = 120 * time.Second

// pythonStdlib is the set of module names that never need installation.
// Not exhaustive; covers what scripts in practice import.
var pythonStdlib = map[string]struct{}{
	"abc": {}, "argparse": {}, "asyncio": {}, "base64": {}, "collections": {},
	"csv": {}, "datetime": {}, "enum": {}, "functools": {}, "glob": {},
	"hashlib": {}, "hmac": {}, "html": {}, "http": {}, "io": {},
	"itertools": {}, "json": {}, "logging": {}, "math": {}, "os": {},
	"pathlib": {}, "random": {}, "re": {}, "shutil": {}, "signal": {},
	"socket": {}, "sqlite3": {}, "string": {}, "subprocess": {}, "sys": {},
	"tempfile": {}, "threading": {}, "time": {}, "typing": {}, "unittest": {},
	"urllib": {}, "uuid": {}, "xml": {}, "zipfile": {},
}

// ExtractDependencies reads a script and returns the third-party packages
// it needs. A "# requirements:" comment header wins; otherwise import
// statements are scanned.
func ExtractDependencies(scriptPath string) ([]string, error) {
	f, err := os.Open(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	var (
		fromImports []string
		seen        = map[string]struct{}{}
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if rest, ok := strings.CutPrefix(line, "# requirements:"); ok {
			var pkgs []string
			for _, p := range strings.Split(rest, ",") {
				if p = strings.TrimSpace(p); p != "" {
					pkgs = append(pkgs, p)
				}
			}
			return pkgs, nil
		}

		var module string
		switch {
		case strings.HasPrefix(line, "import "):
			module = strings.TrimPrefix(line, "import ")
		case strings.HasPrefix(line, "from "):
			module = strings.TrimPrefix(line, "from ")
		default:
			continue
		}
		// "import a.b as c" and "from a.b import c" both root at "a".
		module = strings.Fields(module)[0]
		module = strings.Split(module, ".")[0]
		module = strings.TrimSuffix(module, ",")
		if module == "" {
			continue
		}
		if _, std := pythonStdlib[module]; std {
			continue
		}
		if _, dup := seen[module]; dup {
			continue
		}
		seen[module] = struct{}{}
		fromImports = append(fromImports, module)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan script: %w", err)
	}
	return fromImports, nil
}

// installDependencies installs packages into depsDir via pip. Best effort:
// errors are logged, never returned.
func installDependencies(ctx context.Context, log *slog.Logger, interpreter, depsDir string, pkgs []string) {
	if len(pkgs) == 0 {
		return
	}
	if err := os.MkdirAll(depsDir, 0o755); err != nil {
		log.Warn("create deps dir", "dir", depsDir, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, depsInstallTimeout)
	defer cancel()

	args := append([]string{"-m", "pip", "install", "--quiet", "--target", depsDir}, pkgs...)
	out, err := exec.CommandContext(ctx, interpreter, args...).CombinedOutput()
	if err != nil {
		log.Warn("install script dependencies",
			"packages", strings.Join(pkgs, ","),
			"error", err,
			"output", strings.TrimSpace(string(out)))
		return
	}
	log.Debug("installed script dependencies", "packages", strings.Join(pkgs, ","), "dir", depsDir)
}
