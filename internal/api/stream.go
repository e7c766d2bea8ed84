// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Events GET /api/v1/events streams progress as server-sent events named
// after their stream. ?job= limits the stream to one job.
func (h *Handler) Events(c *gin.Context) {
	if h.broker == nil {
		errResp(c, http.StatusServiceUnavailable, "Unavailable", "no event broker")
		return
	}

	ch, unsubscribe := h.broker.Subscribe(c.Query("job"))
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream;charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Stream), ProgressEvent{JobID: ev.JobID, Percent: ev.Percent})
			return true
		case <-ctx.Done():
			return false
		}
	})
}
