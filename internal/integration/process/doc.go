// Package process runs shell commands as supervised child processes.
//
// It backs the exec command: every `!cmd args` line becomes one Process
// spawned through the Supervisor with `sh -c`.
//
// # Supervisor
//
//	sup := process.NewSupervisor(process.WithShell("/bin/sh"))
//	defer sup.Shutdown(5 * time.Second)
//
//	proc, err := sup.Spawn(ctx, process.Spec{
//	    Command: "ls -la",
//	    OnLine:  process.WriterHandler(os.Stdout, os.Stderr),
//	})
//	if err != nil {
//	    return err
//	}
//	<-proc.Done()
//	fmt.Println(proc.ExitCode())
//
// # Output
//
// Stdout and stderr are read line by line as they arrive. Lines are
// numbered across both streams and handed to Spec.OnLine one at
// a time. Done closes only after both streams reach EOF and the child has
// been reaped.
//
// # Exit
//
// Process.Err reports a nonzero exit as *ExitError. A child killed by
// signal N reports exit code 128+N. Cancelling the spawn context kills the
// child's whole process group.
package process
