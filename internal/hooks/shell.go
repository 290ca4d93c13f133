package hooks

import "log"

// ShellUp runs the user-supplied up script, if any. Failures are
// logged but never fatal to the tunnel, per the external-collaborator
// contract.
func ShellUp(path string) {
	runScript(path)
}

// ShellDown runs the user-supplied down script, if any.
func ShellDown(path string) {
	runScript(path)
}

func runScript(path string) {
	if path == "" {
		return
	}
	out, err := cmdr.CombinedOutput(path)
	if err != nil {
		log.Printf("hooks: script %s failed: %v, output: %s", path, err, out)
	}
}
