// safety.go screens generated code before execution. Blunt by design: the
// sandbox is not a security boundary against a determined adversary, but it
// refuses the obvious footguns a model is likely to emit.
package sandbox

import "strings"

// bannedConstructs maps a substring to the reason it is refused.
var bannedConstructs = map[string]string{
	"import subprocess": "spawns subprocesses",
	"import shutil":     "filesystem-wide operations",
	"os.system":         "shells out",
	"os.remove":         "deletes files",
	"os.rmdir":          "deletes directories",
	"shutil.rmtree":     "recursive deletion",
	"import socket":     "opens network sockets",
	"__import__":        "dynamic imports evade screening",
}

// checkCodeSafety reports whether the code contains a banned construct and,
// if so, which one.
func checkCodeSafety(code string) (unsafe bool, reason string) {
	for construct, why := range bannedConstructs {
		if strings.Contains(code, construct) {
			return true, construct + " (" + why + ")"
		}
	}
	return false, ""
}
