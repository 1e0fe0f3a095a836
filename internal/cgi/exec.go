package cgi

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// Process is a spawned CGI script. The parent ends of its pipes are non-blocking and are
// meant to be driven by a readiness multiplexer.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	reaped bool
	exit   error
	// Stdout is the read end of the script's standard output.
	Stdout int
	// Stdin is the write end of the script's standard input, or -1 if there's no input
	// to be written.
	Stdin int
	// Input is the request body which is yet to be written into Stdin.
	Input []byte
}

// Start spawns the script with the environment consisting of env only and no arguments
// beyond the program name. The working directory is the one the script resides in.
func Start(filename string, env []string, input []byte) (*Process, error) {
	path, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	var stdin, stdout [2]int
	if err = unix.Pipe2(stdin[:], unix.O_CLOEXEC); err != nil {
		return nil, os.NewSyscallError("pipe2", err)
	}

	if err = unix.Pipe2(stdout[:], unix.O_CLOEXEC); err != nil {
		closeAll(stdin[0], stdin[1])
		return nil, os.NewSyscallError("pipe2", err)
	}

	if env == nil {
		// nil would make the script inherit the server's environment
		env = []string{}
	}

	childIn := os.NewFile(uintptr(stdin[0]), "cgi-stdin")
	childOut := os.NewFile(uintptr(stdout[1]), "cgi-stdout")

	cmd := &exec.Cmd{
		Path:   path,
		Args:   []string{path},
		Env:    env,
		Dir:    filepath.Dir(path),
		Stdin:  childIn,
		Stdout: childOut,
		Stderr: os.Stderr,
	}

	err = cmd.Start()
	// the child has its own copies by now
	_ = childIn.Close()
	_ = childOut.Close()

	if err != nil {
		closeAll(stdin[1], stdout[0])
		return nil, err
	}

	proc := &Process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		Stdout: stdout[0],
		Stdin:  stdin[1],
		Input:  input,
	}

	if err = unix.SetNonblock(proc.Stdout, true); err == nil {
		err = unix.SetNonblock(proc.Stdin, true)
	}

	if err != nil {
		proc.Kill()
		_ = proc.Wait()
		return nil, os.NewSyscallError("fcntl", err)
	}

	if len(input) == 0 {
		proc.CloseStdin()
	}

	return proc, nil
}

func (p *Process) Pid() int {
	return p.pid
}

// WriteInput writes as much of the pending input as the pipe accepts. done is true once
// the input is completely written. The write end stays open until CloseStdin, so the
// descriptor can be unregistered before it's released. unix.EAGAIN is never returned.
func (p *Process) WriteInput() (done bool, err error) {
	for len(p.Input) > 0 {
		n, err := unix.Write(p.Stdin, p.Input)
		switch err {
		case nil:
			p.Input = p.Input[n:]
		case unix.EINTR:
		case unix.EAGAIN:
			return false, nil
		default:
			return false, err
		}
	}

	return true, nil
}

// CloseStdin closes the write end of the script's standard input, signaling EOF to it.
func (p *Process) CloseStdin() {
	if p.Stdin != -1 {
		_ = unix.Close(p.Stdin)
		p.Stdin = -1
	}

	p.Input = nil
}

// TryWait reaps the process if it has already exited and never blocks. A non-zero exit
// status is reported as *ExitError.
func (p *Process) TryWait() (exited bool, err error) {
	return p.wait(unix.WNOHANG)
}

// Wait blocks until the process exits, reaps it and releases the remaining descriptors.
// A non-zero exit status is reported as *ExitError.
func (p *Process) Wait() error {
	p.closeFds()
	_, err := p.wait(0)

	return err
}

// Kill closes the pipes and sends SIGKILL to the process. The process still has to be
// reaped afterward by either Wait or TryWait.
func (p *Process) Kill() {
	p.closeFds()
	if !p.reaped {
		_ = unix.Kill(p.Pid(), unix.SIGKILL)
	}
}

// Pidfd returns a descriptor which becomes readable once the process exits. The caller
// owns the descriptor.
func (p *Process) Pidfd() (int, error) {
	fd, err := unix.PidfdOpen(p.Pid(), 0)
	if err != nil {
		return -1, os.NewSyscallError("pidfd_open", err)
	}

	return fd, nil
}

func (p *Process) wait(options int) (exited bool, err error) {
	if p.reaped {
		return true, p.exit
	}

	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(p.Pid(), &ws, options, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			// there's nothing left to wait for, so the pid must not be signaled anymore
			p.reaped, p.exit = true, os.NewSyscallError("wait4", err)
			return false, p.exit
		case pid == 0:
			return false, nil
		}

		break
	}

	p.reaped = true
	_ = p.cmd.Process.Release()
	if !ws.Exited() || ws.ExitStatus() != 0 {
		p.exit = &ExitError{Status: ws}
	}

	return true, p.exit
}

// ExitError reports a script which exited unsuccessfully or was killed by a signal.
type ExitError struct {
	Status unix.WaitStatus
}

func (e *ExitError) Error() string {
	if e.Status.Signaled() {
		return "cgi: script killed by " + e.Status.Signal().String()
	}

	return "cgi: script exited with status " + strconv.Itoa(e.Status.ExitStatus())
}

// ExitCode returns the exit status, or -1 if the script was killed by a signal.
func (e *ExitError) ExitCode() int {
	if !e.Status.Exited() {
		return -1
	}

	return e.Status.ExitStatus()
}

func (p *Process) closeFds() {
	p.CloseStdin()

	if p.Stdout != -1 {
		_ = unix.Close(p.Stdout)
		p.Stdout = -1
	}
}

func closeAll(fds ...int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
