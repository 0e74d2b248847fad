// Package shell provides the exec command and the process runner behind it.
//
// Lines starting with the exec sigil spawn a shell command:
//
//	!ls -la
//	! git status
//
// In execute mode the child runs under a process.Supervisor with its
// output streamed line by line to the interpreter's output channels. The
// line's result stays pending until the child exits: exit code 0 resolves
// it, anything else rejects it with a *process.ExitError, which aborts the
// rest of the block.
//
// In rewrite mode the line becomes a call to the host's magic.exec
// function, tagged with the session's origin.
package shell
