// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具
//
// Package process wraps exec.Cmd for supervising a single worker run.

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/aDarkMaker/MP42PNG/internal/logger"

	gopsutilprocess "github.com/shirou/gopsutil/v3/process"
)

var (
	ErrNoBinary = errors.New("no valid binary given")
	ErrRunning  = errors.New("process is already running")
)

const defaultKillTimeout = 5 * time.Second

// Process represents a supervised process. Each Run spawns the binary once.
type Process interface {
	Status() Status
	Run(ctx context.Context) (Exit, error)
	Stop(wait bool) error
	IsRunning() bool
}

// Config for a process
type Config struct {
	Binary string
	Args   []string
	// Env is the complete environment of the child. Nil inherits ours.
	Env []string
	Dir string
	// KillTimeout is the grace period between interrupt and kill, and the
	// longest Run waits for pipes held open by grandchildren after exit.
	KillTimeout   time.Duration
	Parser        Parser
	Sampler       Sampler
	OnStart       func(pid int)
	OnExit        func(exit Exit)
	OnStateChange func(from, to string)
	Logger        logger.Logger
}

// Exit describes how a run ended
type Exit struct {
	Code     int
	Killed   bool
	Duration time.Duration
}

// Success reports a clean zero exit
func (e Exit) Success() bool {
	return e.Code == 0 && !e.Killed
}

// Status of a process
type Status struct {
	State    string
	States   States
	Pid      int
	Duration time.Duration
	Time     time.Time
	CPU      float64
	Memory   uint64
}

// States cumulative counts
type States struct {
	Finished  uint64
	Starting  uint64
	Running   uint64
	Finishing uint64
	Failed    uint64
	Killed    uint64
}

type stateType string

const (
	stateFinished  stateType = "finished"
	stateStarting  stateType = "starting"
	stateRunning   stateType = "running"
	stateFinishing stateType = "finishing"
	stateFailed    stateType = "failed"
	stateKilled    stateType = "killed"
)

func (s stateType) String() string { return string(s) }

func (s stateType) IsRunning() bool {
	return s == stateStarting || s == stateRunning || s == stateFinishing
}

var transitions = map[stateType][]stateType{
	stateFinished:  {stateStarting},
	stateFailed:    {stateStarting},
	stateKilled:    {stateStarting},
	stateStarting:  {stateRunning, stateFailed},
	stateRunning:   {stateFinishing, stateFinished, stateFailed, stateKilled},
	stateFinishing: {stateFinished, stateFailed, stateKilled},
}

type process struct {
	binary      string
	args        []string
	env         []string
	dir         string
	killTimeout time.Duration
	parser      Parser
	sampler     Sampler
	logger      logger.Logger

	state struct {
		state  stateType
		time   time.Time
		states States
		lock   sync.Mutex
	}
	run struct {
		cmd     *exec.Cmd
		done    chan struct{}
		stopped bool
		tree    []*gopsutilprocess.Process
		timer   *time.Timer
		lock    sync.Mutex
	}
	callbacks struct {
		onStart       func(pid int)
		onExit        func(exit Exit)
		onStateChange func(from, to string)
	}
}

// New creates a new process
func New(config Config) (Process, error) {
	if len(config.Binary) == 0 {
		return nil, ErrNoBinary
	}

	p := &process{
		binary:      config.Binary,
		args:        config.Args,
		env:         config.Env,
		dir:         config.Dir,
		killTimeout: config.KillTimeout,
		parser:      config.Parser,
		sampler:     config.Sampler,
		logger:      config.Logger,
	}

	if p.killTimeout <= 0 {
		p.killTimeout = defaultKillTimeout
	}
	if p.parser == nil {
		p.parser = &nullParser{}
	}
	if p.sampler == nil {
		p.sampler = NewNullSampler()
	}
	if p.logger == nil {
		p.logger = logger.Nop()
	}

	p.callbacks.onStart = config.OnStart
	p.callbacks.onExit = config.OnExit
	p.callbacks.onStateChange = config.OnStateChange

	p.state.state = stateFinished
	p.state.time = time.Now()

	return p, nil
}

func (p *process) setState(state stateType) error {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()

	prev := p.state.state
	allowed := false
	for _, s := range transitions[prev] {
		if s == state {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("can't change from %s to %s", prev, state)
	}

	p.state.state = state
	p.state.time = time.Now()
	switch state {
	case stateStarting:
		p.state.states.Starting++
	case stateRunning:
		p.state.states.Running++
	case stateFinishing:
		p.state.states.Finishing++
	case stateFinished:
		p.state.states.Finished++
	case stateFailed:
		p.state.states.Failed++
	case stateKilled:
		p.state.states.Killed++
	}

	if cb := p.callbacks.onStateChange; cb != nil {
		go cb(prev.String(), state.String())
	}
	return nil
}

func (p *process) getState() stateType {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()
	return p.state.state
}

func (p *process) IsRunning() bool {
	return p.getState().IsRunning()
}

func (p *process) Status() Status {
	cpu, memory := p.sampler.Current()

	p.state.lock.Lock()
	s := Status{
		State:    p.state.state.String(),
		States:   p.state.states,
		Duration: time.Since(p.state.time),
		Time:     p.state.time,
		CPU:      cpu,
		Memory:   memory,
	}
	p.state.lock.Unlock()

	p.run.lock.Lock()
	if p.run.cmd != nil && p.run.cmd.Process != nil {
		s.Pid = p.run.cmd.Process.Pid
	}
	p.run.lock.Unlock()

	return s
}

// Run starts the binary and blocks until it exited and both output streams
// are drained. Cancelling ctx interrupts the process, kills it and its
// children after KillTimeout, and makes Run return ctx.Err().
func (p *process) Run(ctx context.Context) (Exit, error) {
	if err := p.setState(stateStarting); err != nil {
		return Exit{}, ErrRunning
	}

	p.parser.ResetStats()
	p.parser.ResetLog()

	cmd := exec.Command(p.binary, p.args...)
	cmd.Env = p.env
	cmd.Dir = p.dir
	cmd.Stdout = chunkWriter(p.parser.Parse)
	cmd.Stderr = chunkWriter(p.parser.Diagnostic)
	cmd.WaitDelay = p.killTimeout

	if err := ctx.Err(); err != nil {
		p.setState(stateFailed)
		return Exit{}, err
	}

	if err := cmd.Start(); err != nil {
		p.setState(stateFailed)
		return Exit{}, fmt.Errorf("start %s: %w", p.binary, err)
	}

	start := time.Now()
	done := make(chan struct{})
	defer close(done)

	p.run.lock.Lock()
	p.run.cmd = cmd
	p.run.done = done
	p.run.stopped = false
	p.run.tree = nil
	p.run.lock.Unlock()

	pid := cmd.Process.Pid
	if err := p.sampler.Start(pid); err != nil {
		p.logger.Debug("sampler for pid %d: %v", pid, err)
	}
	p.setState(stateRunning)
	p.logger.Debug("started %s (pid %d) args %v", p.binary, pid, p.args)

	if cb := p.callbacks.onStart; cb != nil {
		go cb(pid)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var err error
	select {
	case err = <-waitErr:
	case <-ctx.Done():
		if stopErr := p.stop(false); stopErr != nil {
			p.logger.Error("stop pid %d: %v", pid, stopErr)
		}
		err = <-waitErr
	}

	exit := exitOf(cmd, err)
	exit.Duration = time.Since(start)
	stopped := p.finish()
	p.parser.Flush()

	switch {
	case stopped:
		exit.Killed = true
		p.setState(stateKilled)
	case exit.Success():
		p.setState(stateFinished)
	case exit.Killed:
		p.setState(stateKilled)
	default:
		p.setState(stateFailed)
	}

	p.logger.Debug("pid %d exited with code %d after %s", pid, exit.Code, exit.Duration)

	if cb := p.callbacks.onExit; cb != nil {
		go cb(exit)
	}

	if stopped && ctx.Err() != nil {
		return exit, ctx.Err()
	}
	return exit, nil
}

func (p *process) Stop(wait bool) error {
	return p.stop(wait)
}

func (p *process) stop(wait bool) error {
	p.run.lock.Lock()
	cmd := p.run.cmd
	done := p.run.done
	if cmd == nil || p.run.stopped || !p.IsRunning() {
		p.run.lock.Unlock()
		return nil
	}
	p.run.stopped = true
	// Snapshot children now, they are reparented once the worker is gone.
	p.run.tree = descendants(int32(cmd.Process.Pid))
	tree := p.run.tree
	p.run.lock.Unlock()

	p.setState(stateFinishing)

	var err error
	if runtime.GOOS == "windows" {
		killAll(tree)
		err = cmd.Process.Kill()
	} else {
		err = cmd.Process.Signal(os.Interrupt)
		if err != nil {
			err = cmd.Process.Kill()
		} else {
			p.run.lock.Lock()
			p.run.timer = time.AfterFunc(p.killTimeout, func() {
				killAll(tree)
				cmd.Process.Kill()
			})
			p.run.lock.Unlock()
		}
	}
	if errors.Is(err, os.ErrProcessDone) {
		err = nil
	}

	if err == nil && wait {
		<-done
	}
	return err
}

// finish releases per-run resources and reports whether the run was stopped
func (p *process) finish() bool {
	p.sampler.Stop()

	p.run.lock.Lock()
	defer p.run.lock.Unlock()

	if p.run.timer != nil {
		p.run.timer.Stop()
		p.run.timer = nil
	}
	if p.run.stopped {
		killAll(p.run.tree)
		p.run.tree = nil
	}
	return p.run.stopped
}

func exitOf(cmd *exec.Cmd, err error) Exit {
	if state := cmd.ProcessState; state != nil {
		code := state.ExitCode()
		return Exit{Code: code, Killed: code == -1}
	}
	if err != nil {
		return Exit{Code: -1, Killed: true}
	}
	return Exit{}
}

// chunkWriter hands every chunk read from a pipe to a parser callback. The
// slice is only valid during the call.
type chunkWriter func(chunk []byte)

func (w chunkWriter) Write(b []byte) (int, error) {
	w(b)
	return len(b), nil
}
