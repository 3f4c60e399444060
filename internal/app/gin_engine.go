package app

import "github.com/gin-gonic/gin"

func NewGinEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	return engine
}
