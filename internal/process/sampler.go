// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package process

// Sampler reports CPU/memory usage of a running process. The null sampler
// does nothing.
type Sampler interface {
	Start(pid int) error
	Stop()
	Current() (cpu float64, memory uint64)
}

type nullSampler struct{}

// NewNullSampler returns a no-op sampler
func NewNullSampler() Sampler {
	return &nullSampler{}
}

func (s *nullSampler) Start(pid int) error        { return nil }
func (s *nullSampler) Stop()                      {}
func (s *nullSampler) Current() (float64, uint64) { return 0, 0 }
