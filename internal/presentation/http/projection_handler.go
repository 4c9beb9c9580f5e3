package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReadSeqSource 投影中的已读水位（Redis 快照、MySQL 持久化）
type ReadSeqSource interface {
	Name() string
	ReadSeq(ctx context.Context, owner, roomID, memberID int64) (int64, error)
}

// ProjectionHandler 查询各投影输出中的已读水位，用于核对投影与内存状态是否一致
type ProjectionHandler struct {
	owner   int64
	sources []ReadSeqSource
}

func NewProjectionHandler(owner int64, sources ...ReadSeqSource) *ProjectionHandler {
	return &ProjectionHandler{owner: owner, sources: sources}
}

func (h *ProjectionHandler) Register(r gin.IRouter) {
	r.GET("/projection/rooms/:id/members/:member/read", h.ReadSeq)
}

func (h *ProjectionHandler) ReadSeq(c *gin.Context) {
	roomID, ok := idParam(c, "id")
	if !ok {
		return
	}
	memberID, ok := idParam(c, "member")
	if !ok {
		return
	}
	if len(h.sources) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no projection configured"})
		return
	}
	seqs := make(map[string]int64, len(h.sources))
	errs := make(map[string]string)
	for _, s := range h.sources {
		seq, err := s.ReadSeq(c.Request.Context(), h.owner, roomID, memberID)
		if err != nil {
			errs[s.Name()] = err.Error()
			continue
		}
		seqs[s.Name()] = seq
	}
	status := http.StatusOK
	if len(seqs) == 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"chatRoomId": roomID, "userId": memberID, "lastReadMessageId": seqs, "errors": errs})
}
