package target

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/ucdbg/pkg/logflags"
)

// DebuggedProcess 被调试进程信息
type DebuggedProcess struct {
	Process *os.Process     // 进程信息
	Threads map[int]*Thread // 包含的线程列表,k=tid,v=thread
	Command string          // 进程名
	Args    []string        // 进程启动参数
	Exe     string          // 可执行程序路径，用来加载符号

	once       *sync.Once
	ptraceCh   chan func() // ptrace请求统一发送到这里，由专门协程处理
	ptraceDone chan int    // ptrace请求完成
	stopCh     chan int    // 通知需要停止调试
	log        *logrus.Entry
}

// AttachTargetProcess trace一个目标进程的所有线程，返回时所有线程都已停止
func AttachTargetProcess(pid int) (*DebuggedProcess, error) {
	var (
		target DebuggedProcess
		err    error
	)
	target = DebuggedProcess{
		Threads:    map[int]*Thread{},
		once:       &sync.Once{},
		ptraceCh:   make(chan func()),
		ptraceDone: make(chan int),
		stopCh:     make(chan int),
		log:        logflags.TargetLogger(),
	}
	defer func() {
		if err != nil {
			target.StopPtrace()
		}
	}()

	// check traceePID
	if !checkPid(pid) {
		err = fmt.Errorf("process %d not existed", pid)
		return nil, err
	}
	if target.Process, err = os.FindProcess(pid); err != nil {
		return nil, err
	}

	target.ExecPtrace(func() {
		// attach to running process (thread)
		err = target.attach(pid)
	})
	if err != nil {
		return nil, err
	}

	if target.Command, err = readProcComm(pid); err != nil {
		return nil, err
	}
	if target.Args, err = readProcCommArgs(pid); err != nil {
		return nil, err
	}
	if target.Exe, err = readProcExe(pid); err != nil {
		return nil, err
	}

	target.ExecPtrace(func() {
		// uC++ processors are kernel threads, stop all of them
		err = target.updateThreadList()
	})
	if err != nil {
		return nil, err
	}

	return &target, nil
}

// ExecPtrace runs fn on the tracer thread.
//
// All ptrace requests must come from the thread that attached the tracee,
// see https://github.com/golang/go/issues/7699
func (t *DebuggedProcess) ExecPtrace(fn func()) {
	t.once.Do(func() {
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				select {
				case reqFn := <-t.ptraceCh:
					reqFn()
					t.ptraceDone <- 1
				case <-t.stopCh:
					return
				}
			}
		}()
	})
	t.ptraceCh <- fn
	<-t.ptraceDone
}

// StopPtrace stops the tracer goroutine, the process can't be used after
func (t *DebuggedProcess) StopPtrace() {
	close(t.stopCh)
}

// attach attach to process pid
func (t *DebuggedProcess) attach(pid int) error {

	err := syscall.PtraceAttach(pid)
	if err != nil {
		return fmt.Errorf("process %d attached error: %v", pid, err)
	}
	t.log.Debugf("process %d attached succ", pid)

	// wait
	_, status, err := t.wait(pid, syscall.WALL)
	if err != nil {
		return fmt.Errorf("process %d waited error: %v", pid, err)
	}
	t.log.Debugf("process %d stopped: %v", pid, status != nil && status.Stopped())
	return nil
}

// Detach detaches every thread, the process continues running
func (t *DebuggedProcess) Detach() error {

	// check traceePID
	if !checkPid(t.Process.Pid) {
		return fmt.Errorf("process %d not existed", t.Process.Pid)
	}

	// Detach all threads
	tids, err := t.loadThreadList()
	if err != nil {
		return err
	}

	var errs []error
	for _, tid := range tids {
		t.ExecPtrace(func() {
			err = syscall.PtraceDetach(tid)
		})
		if err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("thread %d detached error: %v", tid, err))
			continue
		}
		t.log.Debugf("thread %d detached succ", tid)
	}
	t.StopPtrace()

	if len(errs) != 0 {
		return errs[0]
	}
	return nil
}

// Stop queues SIGSTOP, the process stays stopped after the tracer is gone
func (t *DebuggedProcess) Stop() error {
	return syscall.Kill(t.Process.Pid, syscall.SIGSTOP)
}

func (t *DebuggedProcess) loadThreadList() ([]int, error) {
	threadIDs := []int{}

	tids, _ := filepath.Glob(fmt.Sprintf("/proc/%d/task/*", t.Process.Pid))
	for _, tidpath := range tids {
		tidstr := filepath.Base(tidpath)
		tid, err := strconv.Atoi(tidstr)
		if err != nil {
			return nil, err
		}
		threadIDs = append(threadIDs, tid)
	}
	return threadIDs, nil
}

func (t *DebuggedProcess) updateThreadList() error {

	tids, err := t.loadThreadList()
	if err != nil {
		return fmt.Errorf("load threads err: %v", err)
	}

	for _, tid := range tids {
		if tid != t.Process.Pid {
			// attach to thread
			err = syscall.PtraceAttach(tid)
			if err != nil && err != unix.EPERM {
				// Maybe we have traced tid via PTRACE_O_TRACECLONE.
				// If we try to attach to it again, it will fail.
				// We should ignore this kind of error.
				return fmt.Errorf("attach err: %v", err)
			}

			// wait thread
			_, status, err := t.wait(tid, syscall.WALL)
			if err != nil {
				return fmt.Errorf("wait err: %v", err)
			}
			if status != nil && status.Exited() {
				t.log.Debugf("thread:%d already exited", tid)
				continue
			}
		}

		// update thread
		err = syscall.PtraceSetOptions(tid, syscall.PTRACE_O_TRACECLONE)
		if err != nil {
			return fmt.Errorf("set PTRACE_O_TRACECLONE err: %v", err)
		}

		t.Threads[tid] = &Thread{
			Tid:     tid,
			Process: t,
		}
	}
	return nil
}

// checkPid check whether traceePID is valid process's id
//
// On Unix systems, os.FindProcess always succeeds and returns a Process for
// the given traceePID, regardless of whether the process exists.
func checkPid(pid int) bool {
	out, err := exec.Command("kill", "-s", "0", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		return false
	}

	// output error message, means traceePID is invalid
	if string(out) != "" {
		return false
	}

	return true
}

// --------------------------------------------------------------------

// ReadMemory 读取内存地址addr处的数据，并存储到buf中，未读满buf视为错误
func (t *DebuggedProcess) ReadMemory(addr uint64, buf []byte) error {
	var (
		n   int
		err error
	)
	t.ExecPtrace(func() {
		// PtracePeekText 与 PtracePeekData 效果相同
		n, err = syscall.PtracePeekData(t.Process.Pid, uintptr(addr), buf)
	})
	if err != nil {
		return fmt.Errorf("cannot access memory at address %#x: %v", addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("cannot access memory at address %#x: read %d of %d bytes", addr, n, len(buf))
	}
	return nil
}

// ReadRegister 读取寄存器的数据
func (t *DebuggedProcess) ReadRegister() (*syscall.PtraceRegs, error) {
	var (
		regs syscall.PtraceRegs
		err  error
	)

	t.ExecPtrace(func() {
		pid := t.Process.Pid
		err = syscall.PtraceGetRegs(pid, &regs)
		if err != nil {
			err = fmt.Errorf("get regs error: %v", err)
		}
	})

	if err != nil {
		return nil, err
	}
	return &regs, nil
}

// WriteRegister 设置寄存器
func (t *DebuggedProcess) WriteRegister(regs *syscall.PtraceRegs) error {
	var err error
	t.ExecPtrace(func() {
		pid := t.Process.Pid
		err = syscall.PtraceSetRegs(pid, regs)
	})
	return err
}

// --------------------------------------------------------------------

func (t *DebuggedProcess) wait(pid, options int) (int, *syscall.WaitStatus, error) {
	var s syscall.WaitStatus
	if (t.Process.Pid != pid) || (options != 0) {
		wpid, err := syscall.Wait4(pid, &s, syscall.WALL|options, nil)
		return wpid, &s, err
	}
	// If we call wait4/waitpid on a thread that is the leader of its group,
	// with options == 0, while ptracing and the thread leader has exited leaving
	// zombies of its own then waitpid hangs forever this is apparently intended
	// behaviour in the linux kernel because it's just so convenient.
	// Therefore we call wait4 in a loop with WNOHANG, sleeping a while between
	// calls and exiting when either wait4 succeeds or we find out that the thread
	// has become a zombie.
	// References:
	// https://sourceware.org/bugzilla/show_bug.cgi?id=12702
	// https://sourceware.org/bugzilla/show_bug.cgi?id=10095
	// https://sourceware.org/bugzilla/attachment.cgi?id=5685
	for {
		wpid, err := syscall.Wait4(pid, &s, syscall.WNOHANG|syscall.WALL|options, nil)
		if err != nil {
			return 0, nil, err
		}
		if wpid != 0 {
			return wpid, &s, err
		}
		if status(pid, t.Command) == statusZombie {
			return pid, nil, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func status(pid int, comm string) rune {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return '\000'
	}
	defer f.Close()
	rd := bufio.NewReader(f)

	var (
		p     int
		state rune
	)

	// The second field of /proc/pid/stat is the name of the task in parenthesis.
	// The name of the task is the base name of the executable for this process limited to TASK_COMM_LEN characters
	// Since both parenthesis and spaces can appear inside the name of the task and no escaping happens we need to read the name of the executable first
	// See: include/linux/sched.c:315 and include/linux/sched.c:1510
	_, _ = fmt.Fscanf(rd, "%d ("+comm+")  %c", &p, &state)
	return state
}

// Process statuses
const (
	statusZombie = 'Z'
)
