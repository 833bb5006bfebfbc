package builder

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-ps"
)

// processLister lists running processes. ps.Processes in production.
type processLister func() ([]ps.Process, error)

// runningInstances counts processes, other than this one, whose executable is
// the application inside bundle.
func runningInstances(list processLister, bundle string) (int, error) {
	name := strings.TrimSuffix(filepath.Base(bundle), filepath.Ext(bundle))
	if name == "" {
		return 0, nil
	}

	processList, err := list()
	if err != nil {
		return 0, err
	}

	self := os.Getpid()
	count := 0

	for _, process := range processList {
		if process.Pid() == self {
			continue
		}

		if process.Executable() == name {
			count++
		}
	}

	return count, nil
}
