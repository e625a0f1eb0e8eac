//go:build unix

package agentsdk

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// setProcessUser configures cmd to run as the named user by resolving its
// uid/gid and attaching a syscall.Credential. Requires sufficient privileges
// at exec time.
func setProcessUser(cmd *exec.Cmd, username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("failed to look up user %q: %w",
			username, err)
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return fmt.Errorf("failed to parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return fmt.Errorf("failed to parse gid %q: %w", u.Gid, err)
	}

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Credential = &syscall.Credential{
		Uid: uint32(uid),
		Gid: uint32(gid),
	}

	return nil
}
