// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package process

import (
	"sync"

	gopsutilprocess "github.com/shirou/gopsutil/v3/process"
)

// sysSampler 使用 gopsutil 采集 worker 进程 CPU 和内存
type sysSampler struct {
	mu   sync.RWMutex
	proc *gopsutilprocess.Process
}

// NewSysSampler 创建基于系统调用的采样器
func NewSysSampler() Sampler {
	return &sysSampler{}
}

func (s *sysSampler) Start(pid int) error {
	proc, err := gopsutilprocess.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	return nil
}

func (s *sysSampler) Stop() {
	s.mu.Lock()
	s.proc = nil
	s.mu.Unlock()
}

func (s *sysSampler) Current() (cpu float64, memory uint64) {
	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()
	if proc == nil {
		return 0, 0
	}
	if pct, err := proc.CPUPercent(); err == nil {
		cpu = pct
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		memory = mem.RSS
	}
	return cpu, memory
}

// descendants returns every live child of pid, depth first, children before
// their parents.
func descendants(pid int32) []*gopsutilprocess.Process {
	proc, err := gopsutilprocess.NewProcess(pid)
	if err != nil {
		return nil
	}
	children, err := proc.Children()
	if err != nil {
		return nil
	}
	var out []*gopsutilprocess.Process
	for _, c := range children {
		out = append(out, descendants(c.Pid)...)
		out = append(out, c)
	}
	return out
}

// killAll kills the given processes, ignoring ones that are already gone
func killAll(procs []*gopsutilprocess.Process) {
	for _, p := range procs {
		if running, err := p.IsRunning(); err == nil && running {
			p.Kill()
		}
	}
}
