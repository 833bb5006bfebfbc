package executortest

import (
	"os"
	"path/filepath"

	"github.com/matdotcx/carrus/internal/executor"
)

// Volume simulates hdiutil. "attach" populates the -mountpoint directory with
// the given slash-separated bundle paths (each gets Contents/Info.plist) and
// "detach" empties the directory again. Files lists extra regular files to create.
type Volume struct {
	Bundles []string
	Files   []string
	// AttachExit and DetachExit override the exit status of the verbs.
	AttachExit int
	DetachExit int
}

// Respond implements the hdiutil verbs used by the disk image package.
func (v Volume) Respond(argv []string) executor.Result {
	if len(argv) < 2 {
		return executor.Result{ExitCode: 1, Stderr: "usage"}
	}

	switch argv[1] {
	case "attach":
		if v.AttachExit != 0 {
			return executor.Result{ExitCode: v.AttachExit, Stderr: "hdiutil: attach failed - image not recognized"}
		}

		mountPoint := Arg(argv, "-mountpoint")
		if err := v.populate(mountPoint); err != nil {
			return executor.Result{ExitCode: 1, Stderr: err.Error()}
		}

		return executor.Result{}
	case "detach":
		if v.DetachExit != 0 {
			return executor.Result{ExitCode: v.DetachExit, Stderr: "hdiutil: couldn't unmount - Resource busy"}
		}

		if len(argv) > 2 {
			entries, _ := os.ReadDir(argv[2])
			for _, entry := range entries {
				_ = os.RemoveAll(filepath.Join(argv[2], entry.Name()))
			}
		}

		return executor.Result{}
	default:
		return executor.Result{ExitCode: 1, Stderr: "unknown verb " + argv[1]}
	}
}

func (v Volume) populate(mountPoint string) error {
	for _, bundle := range v.Bundles {
		contents := filepath.Join(mountPoint, filepath.FromSlash(bundle), "Contents")
		if err := os.MkdirAll(filepath.Join(contents, "MacOS"), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(filepath.Join(contents, "Info.plist"), []byte(bundle), 0o644); err != nil {
			return err
		}
	}

	for _, file := range v.Files {
		path := filepath.Join(mountPoint, filepath.FromSlash(file))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
			return err
		}
	}

	return nil
}
