// Package auth 只做客户端侧的 token 解读：签发与验签属于后端，这里仅读取声明。
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSubject = errors.New("auth: token carries no user id")

// Claims 后端签发的 token 中客户端关心的字段
type Claims struct {
	UserID any `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// StripBearer 去掉 "Bearer " 前缀
func StripBearer(tok string) string {
	if len(tok) > 7 && strings.EqualFold(tok[:7], "Bearer ") {
		return tok[7:]
	}
	return tok
}

// SubjectFromToken 解析（不验签）token，返回当前用户 ID。
// 优先 userId 声明，其次 sub。
func SubjectFromToken(tok string) (string, error) {
	var cl Claims
	if _, _, err := jwt.NewParser().ParseUnverified(StripBearer(tok), &cl); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	switch v := cl.UserID.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	}
	if cl.Subject != "" {
		return cl.Subject, nil
	}
	return "", ErrNoSubject
}

// UserIDFromToken 同 SubjectFromToken，要求用户 ID 为整数
func UserIDFromToken(tok string) (int64, error) {
	sub, err := SubjectFromToken(tok)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("user id %q: %w", sub, err)
	}
	return id, nil
}
