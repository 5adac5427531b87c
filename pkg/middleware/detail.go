package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// AbortWithDetail はエラーをコンテキストに記録し、{"detail": ...} を返して処理を中断する。
// errがnilの場合はdetailからエラーを作る。記録したエラーはアクセスログに出力される。
func AbortWithDetail(c *gin.Context, status int, detail string, err error) {
	if err == nil {
		err = errors.New(detail)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
