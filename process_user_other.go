//go:build !unix

package agentsdk

import "os/exec"

// setProcessUser is unsupported off Unix.
func setProcessUser(cmd *exec.Cmd, username string) error {
	return &ErrInvalidConfiguration{
		Field:  "user",
		Reason: "running the child as another user requires a Unix platform",
	}
}
