package ws

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// decodeFrames 解析一条 WebSocket 消息中的全部 STOMP 帧，心跳换行被跳过
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var out []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		out = append(out, f)
	}
}

// parseHeartBeat 解析 "cx,cy" 形式的 heart-beat 头（毫秒）
func parseHeartBeat(v string) (time.Duration, time.Duration) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return 0, 0
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond
}

// negotiate 双方都非 0 时取较大值，否则关闭该方向心跳
func negotiate(local, remote time.Duration) time.Duration {
	if local <= 0 || remote <= 0 {
		return 0
	}
	if local > remote {
		return local
	}
	return remote
}
