package httpapi

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/pipeline"
	"github.com/zulandar/switchboard/internal/supervisor"
)

// registerRoutes sets up all routes on the Gin router.
func (s *Server) registerRoutes() {
	s.router.POST("/send-message", s.handleSendMessage)
	s.router.GET("/logs", s.handleLogs)
	s.router.GET("/status", s.handleStatus)
}

// handleSendMessage runs the delivery pipeline for one request and maps
// the typed failure to its HTTP response.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req pipeline.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Requisição inválida"})
		return
	}

	_, err := s.pipeline.Deliver(c.Request.Context(), req)
	if err == nil {
		c.String(http.StatusOK, "Mensagem enviada com sucesso!")
		return
	}

	var se *pipeline.SendError
	if !errors.As(err, &se) {
		s.logger.Error("send-message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro ao enviar mensagem"})
		return
	}

	switch se.Kind {
	case pipeline.KindValidation:
		c.JSON(se.HTTPStatus(), gin.H{"errors": se.Fields})
	case pipeline.KindAuth:
		c.JSON(se.HTTPStatus(), gin.H{"error": "Credenciais inválidas"})
	case pipeline.KindInvalidAddress:
		c.JSON(se.HTTPStatus(), gin.H{"error": "Número de telefone inválido"})
	case pipeline.KindNotRegistered:
		c.JSON(se.HTTPStatus(), gin.H{"error": "Número não registrado no WhatsApp"})
	default:
		c.JSON(se.HTTPStatus(), gin.H{"error": "Erro ao enviar mensagem"})
	}
}

// handleLogs renders the log viewer page: the raw log file with a
// green/red session status bullet.
func (s *Server) handleLogs(c *gin.Context) {
	content, err := os.ReadFile(s.logPath)
	if err != nil {
		// Missing file renders an empty page rather than an error.
		content = nil
	}

	status := s.status()
	color := "red"
	if status == supervisor.StatusReady {
		color = "green"
	}

	c.HTML(http.StatusOK, "logs.html", gin.H{
		"Status":      string(status),
		"StatusColor": color,
		"Logs":        string(content),
	})
}

// handleStatus reports the session status and audit counters as JSON.
// Counter failures are logged and reported as zero rather than failing
// the whole status page.
func (s *Server) handleStatus(c *gin.Context) {
	var deliveries, ruleFires int64
	if err := s.db.Model(&models.Delivery{}).Count(&deliveries).Error; err != nil {
		s.logger.Error("count deliveries", zap.Error(err))
	}
	if err := s.db.Model(&models.RuleFire{}).Count(&ruleFires).Error; err != nil {
		s.logger.Error("count rule fires", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     string(s.status()),
		"deliveries": deliveries,
		"rule_fires": ruleFires,
	})
}
